// Package domain contains entities without logic, just meta-data
package domain

import (
	"errors"
	"unicode"
	"unicode/utf8"
)

const MaxIdentifierLen = 128

var (
	ErrIdentifierEmpty   = errors.New("identifier empty")
	ErrIdentifierTooLong = errors.New("identifier too long")
	ErrIdentifierInvalid = errors.New("identifier contains control or non-printable characters")
)

// Identity names one participant inside a room.
type Identity string

type ParticipantKind string

const (
	KindNormal ParticipantKind = "normal"
	KindAgent  ParticipantKind = "agent"
)

// ParseParticipantKind maps unknown or empty values to KindNormal.
func ParseParticipantKind(s string) ParticipantKind {
	if ParticipantKind(s) == KindAgent {
		return KindAgent
	}
	return KindNormal
}

// Participant is the public description of a room member.
type Participant struct {
	Identity Identity        `json:"identity"`
	Kind     ParticipantKind `json:"kind"`
	Metadata string          `json:"metadata,omitempty"`
}

// ValidateIdentifier checks room names and identities: non-empty, valid UTF-8,
// printable, at most MaxIdentifierLen bytes.
func ValidateIdentifier(s string) error {
	if s == "" {
		return ErrIdentifierEmpty
	}
	if len(s) > MaxIdentifierLen {
		return ErrIdentifierTooLong
	}
	if !utf8.ValidString(s) {
		return ErrIdentifierInvalid
	}
	for _, r := range s {
		if unicode.IsControl(r) || !unicode.IsPrint(r) {
			return ErrIdentifierInvalid
		}
	}
	return nil
}
