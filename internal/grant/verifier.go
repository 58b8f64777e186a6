package grant

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Verifier checks grants minted by a Signer sharing the same issuer and secret.
type Verifier struct {
	issuer string
	secret []byte
	now    func() time.Time
	leeway time.Duration
}

func NewVerifier(issuer, secret string, opts ...VerifierOption) (*Verifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrMissingSecret
	}
	v := &Verifier{issuer: issuer, secret: []byte(secret), now: time.Now}
	for _, fn := range opts {
		fn(v)
	}
	return v, nil
}

type VerifierOption func(*Verifier)

// WithVerifyClock overrides time.Now during validation.
func WithVerifyClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) { v.now = now }
}

// WithLeeway tolerates clock skew on nbf/iat checks.
func WithLeeway(d time.Duration) VerifierOption {
	return func(v *Verifier) { v.leeway = d }
}

// Verify parses and validates token. Expired grants fail with ErrExpired,
// never with a generic error.
func (v *Verifier) Verify(token string) (Claims, error) {
	var tc tokenClaims
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(v.now),
		jwt.WithLeeway(v.leeway),
	}
	if v.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(v.issuer))
	}
	_, err := jwt.ParseWithClaims(token, &tc, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, parserOpts...)
	if err != nil {
		return Claims{}, classify(err)
	}
	c := tc.toClaims()
	if c.Identity == "" || c.Room == "" {
		return Claims{}, ErrMalformed
	}
	return c, nil
}

// Expired grants are reported first so callers can tell users to fetch a new one.
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return ErrNotYetValid
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrInvalidSignature
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return ErrIssuerMismatch
	default:
		return ErrMalformed
	}
}
