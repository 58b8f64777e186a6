package grant

import (
	"errors"
	"fmt"

	"github.com/dkeye/VoiceAgent/internal/errs"
)

// Public, stable errors for callers. Each wraps an errs kind.
var (
	ErrMissingSecret     = fmt.Errorf("%w: signing secret missing", errs.ErrConfiguration)
	ErrMissingIssuer     = fmt.Errorf("%w: issuer missing", errs.ErrConfiguration)
	ErrEmptyField        = fmt.Errorf("%w: required field empty", errs.ErrValidation)
	ErrInvalidIdentifier = fmt.Errorf("%w: invalid identifier", errs.ErrValidation)
	ErrInvalidTTL        = fmt.Errorf("%w: ttl out of range", errs.ErrValidation)
	ErrInvalidKind       = fmt.Errorf("%w: unknown participant kind", errs.ErrValidation)

	ErrExpired          = errors.New("grant expired")
	ErrNotYetValid      = errors.New("grant not yet valid")
	ErrInvalidSignature = errors.New("grant signature invalid")
	ErrMalformed        = errors.New("grant malformed")
	ErrIssuerMismatch   = errors.New("grant issuer mismatch")
)

// FieldError names the request field that failed validation.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string { return e.Field + ": " + e.Err.Error() }

func (e *FieldError) Unwrap() error { return e.Err }
