package grant

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/dkeye/VoiceAgent/internal/domain"
)

const (
	DefaultTTL = time.Hour
	MaxTTL     = 24 * time.Hour
)

// Request describes the grant to mint. Zero TTL means DefaultTTL; zero
// Permissions means DefaultPermissions; empty Kind means a normal participant.
type Request struct {
	Room        string
	Identity    string
	Metadata    string
	Kind        domain.ParticipantKind
	TTL         time.Duration
	Permissions *Permissions
}

// Grant is a signed token plus the claims it carries, for audit logging.
type Grant struct {
	Token  string
	Claims Claims
}

type Option func(*options)

type options struct {
	now    func() time.Time
	maxTTL time.Duration
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// WithMaxTTL caps the accepted TTL. Values <= 0 are ignored.
func WithMaxTTL(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.maxTTL = d
		}
	}
}

// Signer mints grants. It is immutable after construction.
type Signer struct {
	issuer string
	secret []byte
	now    func() time.Time
	maxTTL time.Duration
}

// NewSigner fails with ErrMissingSecret when secret is blank; the caller must
// then refuse to serve grant issuance.
func NewSigner(issuer, secret string, opts ...Option) (*Signer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrMissingSecret
	}
	if strings.TrimSpace(issuer) == "" {
		return nil, ErrMissingIssuer
	}
	o := options{now: time.Now, maxTTL: MaxTTL}
	for _, fn := range opts {
		fn(&o)
	}
	return &Signer{issuer: issuer, secret: []byte(secret), now: o.now, maxTTL: o.maxTTL}, nil
}

// MaxTTL is the longest TTL this signer accepts.
func (s *Signer) MaxTTL() time.Duration { return s.maxTTL }

// Sign validates req and mints a grant. Nothing is returned on invalid input.
func (s *Signer) Sign(req Request) (Grant, error) {
	if err := validateRequest(&req, s.maxTTL); err != nil {
		return Grant{}, err
	}
	perms := DefaultPermissions()
	if req.Permissions != nil {
		perms = *req.Permissions
	}

	// Whole seconds so the encoded iat/exp round-trip exactly.
	iat := s.now().UTC().Truncate(time.Second)
	exp := iat.Add(req.TTL)

	tc := &tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.issuer,
			Subject:   req.Identity,
			IssuedAt:  jwt.NewNumericDate(iat),
			NotBefore: jwt.NewNumericDate(iat),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Metadata: req.Metadata,
		Kind:     string(req.Kind),
		Video: videoGrant{
			Room:           req.Room,
			RoomJoin:       perms.Join,
			CanPublish:     perms.Publish,
			CanSubscribe:   perms.Subscribe,
			CanPublishData: perms.PublishData,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, tc).SignedString(s.secret)
	if err != nil {
		return Grant{}, err
	}
	return Grant{Token: signed, Claims: tc.toClaims()}, nil
}

func validateRequest(req *Request, maxTTL time.Duration) error {
	if err := checkIdentifier("roomName", req.Room); err != nil {
		return err
	}
	if err := checkIdentifier("identity", req.Identity); err != nil {
		return err
	}
	switch req.Kind {
	case "":
		req.Kind = domain.KindNormal
	case domain.KindNormal, domain.KindAgent:
	default:
		return &FieldError{Field: "kind", Err: ErrInvalidKind}
	}
	if req.TTL == 0 {
		req.TTL = DefaultTTL
	}
	// exp is encoded in whole seconds.
	if req.TTL < time.Second || req.TTL > maxTTL || req.TTL%time.Second != 0 {
		return &FieldError{Field: "ttl", Err: ErrInvalidTTL}
	}
	return nil
}

func checkIdentifier(field, v string) error {
	switch err := domain.ValidateIdentifier(v); err {
	case nil:
		return nil
	case domain.ErrIdentifierEmpty:
		return &FieldError{Field: field, Err: ErrEmptyField}
	default:
		return &FieldError{Field: field, Err: ErrInvalidIdentifier}
	}
}
