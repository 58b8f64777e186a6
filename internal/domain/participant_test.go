package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateIdentifier(t *testing.T) {
	cases := []struct {
		in   string
		want error
	}{
		{"demo-1", nil},
		{"patient-42", nil},
		{"Zoë room", nil},
		{"", ErrIdentifierEmpty},
		{strings.Repeat("a", MaxIdentifierLen+1), ErrIdentifierTooLong},
		{"bad\nname", ErrIdentifierInvalid},
		{"bell\x07", ErrIdentifierInvalid},
		{"\xff\xfe", ErrIdentifierInvalid},
	}
	for _, tc := range cases {
		if err := ValidateIdentifier(tc.in); !errors.Is(err, tc.want) {
			t.Fatalf("ValidateIdentifier(%q) = %v, want %v", tc.in, err, tc.want)
		}
	}
}

func TestParseParticipantKind(t *testing.T) {
	if ParseParticipantKind("agent") != KindAgent {
		t.Fatalf("agent kind not parsed")
	}
	if ParseParticipantKind("") != KindNormal || ParseParticipantKind("robot") != KindNormal {
		t.Fatalf("unknown kinds must map to normal")
	}
}
