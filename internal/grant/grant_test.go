package grant

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/VoiceAgent/internal/domain"
	"github.com/dkeye/VoiceAgent/internal/errs"
)

const (
	testIssuer = "APItest"
	testSecret = "0123456789abcdef0123456789abcdef"
)

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func newPair(t *testing.T, now time.Time) (*Signer, *Verifier) {
	t.Helper()
	s, err := NewSigner(testIssuer, testSecret, WithClock(fixedClock(now)))
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	v, err := NewVerifier(testIssuer, testSecret, WithVerifyClock(fixedClock(now)))
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	return s, v
}

func TestSignVerifyRoundTrip(t *testing.T) {
	now := time.Date(2026, 10, 16, 9, 30, 15, 0, time.UTC)
	s, v := newPair(t, now)

	for _, ttl := range []time.Duration{time.Second, time.Minute, 90 * time.Minute, MaxTTL} {
		g, err := s.Sign(Request{Room: "demo-1", Identity: "patient-42", TTL: ttl})
		if err != nil {
			t.Fatalf("Sign(ttl=%v): %v", ttl, err)
		}
		c, err := v.Verify(g.Token)
		if err != nil {
			t.Fatalf("Verify(ttl=%v): %v", ttl, err)
		}
		if c.ExpiresAt.Sub(c.IssuedAt) != ttl {
			t.Fatalf("exp-iat = %v, want %v", c.ExpiresAt.Sub(c.IssuedAt), ttl)
		}
		if c.Room != "demo-1" || c.Identity != "patient-42" || c.Issuer != testIssuer {
			t.Fatalf("unexpected claims: %+v", c)
		}
		if c.Permissions != DefaultPermissions() {
			t.Fatalf("unexpected permissions: %+v", c.Permissions)
		}
		if c.ID == "" || c.ID != g.Claims.ID {
			t.Fatalf("grant id mismatch: %q vs %q", c.ID, g.Claims.ID)
		}
	}
}

func TestDefaultTTLIsOneHour(t *testing.T) {
	now := time.Date(2026, 10, 16, 9, 30, 15, 500_000_000, time.UTC)
	s, v := newPair(t, now)

	g, err := s.Sign(Request{Room: "demo-1", Identity: "patient-42"})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if want := now.Truncate(time.Second); !g.Claims.IssuedAt.Equal(want) {
		t.Fatalf("iat = %v, want %v", g.Claims.IssuedAt, want)
	}
	if g.Claims.ExpiresAt.Sub(g.Claims.IssuedAt) != 3600*time.Second {
		t.Fatalf("default ttl = %v", g.Claims.TTL())
	}
	c, err := v.Verify(g.Token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !c.ExpiresAt.Equal(g.Claims.ExpiresAt) {
		t.Fatalf("verified exp %v != signed exp %v", c.ExpiresAt, g.Claims.ExpiresAt)
	}
}

func TestVerifyExpired(t *testing.T) {
	issued := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	s, _ := newPair(t, issued)
	g, err := s.Sign(Request{Room: "demo-1", Identity: "patient-42", TTL: time.Minute})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	for _, later := range []time.Duration{time.Minute, time.Minute + time.Second, 48 * time.Hour} {
		v, _ := NewVerifier(testIssuer, testSecret, WithVerifyClock(fixedClock(issued.Add(later))))
		_, err = v.Verify(g.Token)
		if !errors.Is(err, ErrExpired) {
			t.Fatalf("after %v: expected ErrExpired, got %v", later, err)
		}
	}
}

func TestVerifyRejectsTamperedAndForeign(t *testing.T) {
	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	s, v := newPair(t, now)
	g, err := s.Sign(Request{Room: "demo-1", Identity: "patient-42"})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	other, _ := NewSigner(testIssuer, "another-secret-another-secret-xx", WithClock(fixedClock(now)))
	foreign, _ := other.Sign(Request{Room: "demo-1", Identity: "patient-42"})
	if _, err := v.Verify(foreign.Token); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("foreign secret: expected ErrInvalidSignature, got %v", err)
	}

	parts := strings.Split(g.Token, ".")
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))
	if _, err := v.Verify(tampered); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("tampered: expected ErrInvalidSignature, got %v", err)
	}

	if _, err := v.Verify("not-a-token"); !errors.Is(err, ErrMalformed) {
		t.Fatalf("garbage: expected ErrMalformed, got %v", err)
	}

	otherIssuer, _ := NewVerifier("APIother", testSecret, WithVerifyClock(fixedClock(now)))
	if _, err := otherIssuer.Verify(g.Token); !errors.Is(err, ErrIssuerMismatch) {
		t.Fatalf("issuer: expected ErrIssuerMismatch, got %v", err)
	}
}

func TestSignValidation(t *testing.T) {
	s, _ := newPair(t, time.Now())

	cases := []struct {
		name  string
		req   Request
		field string
		kind  error
	}{
		{"empty room", Request{Identity: "p"}, "roomName", ErrEmptyField},
		{"empty identity", Request{Room: "r"}, "identity", ErrEmptyField},
		{"control char", Request{Room: "r\x00", Identity: "p"}, "roomName", ErrInvalidIdentifier},
		{"newline identity", Request{Room: "r", Identity: "a\nb"}, "identity", ErrInvalidIdentifier},
		{"negative ttl", Request{Room: "r", Identity: "p", TTL: -time.Second}, "ttl", ErrInvalidTTL},
		{"sub-second ttl", Request{Room: "r", Identity: "p", TTL: time.Millisecond}, "ttl", ErrInvalidTTL},
		{"fractional ttl", Request{Room: "r", Identity: "p", TTL: 1500 * time.Millisecond}, "ttl", ErrInvalidTTL},
		{"ttl too long", Request{Room: "r", Identity: "p", TTL: MaxTTL + time.Second}, "ttl", ErrInvalidTTL},
		{"unknown kind", Request{Room: "r", Identity: "p", Kind: "robot"}, "kind", ErrInvalidKind},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g, err := s.Sign(tc.req)
			if g.Token != "" {
				t.Fatalf("token emitted on invalid input")
			}
			if !errors.Is(err, tc.kind) || !errors.Is(err, errs.ErrValidation) {
				t.Fatalf("expected %v (validation), got %v", tc.kind, err)
			}
			var fe *FieldError
			if !errors.As(err, &fe) || fe.Field != tc.field {
				t.Fatalf("expected field %q, got %v", tc.field, err)
			}
		})
	}
}

func TestCustomPermissions(t *testing.T) {
	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	s, v := newPair(t, now)
	listenOnly := Permissions{Join: true, Subscribe: true}
	g, err := s.Sign(Request{Room: "demo-1", Identity: "observer", Permissions: &listenOnly})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	c, err := v.Verify(g.Token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if c.Permissions != listenOnly {
		t.Fatalf("permissions = %+v, want %+v", c.Permissions, listenOnly)
	}
}

func TestMissingSecret(t *testing.T) {
	if _, err := NewSigner(testIssuer, "  "); !errors.Is(err, ErrMissingSecret) || !errors.Is(err, errs.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if _, err := NewVerifier(testIssuer, ""); !errors.Is(err, ErrMissingSecret) {
		t.Fatalf("expected ErrMissingSecret, got %v", err)
	}
}

func TestKindTravelsInGrant(t *testing.T) {
	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	s, v := newPair(t, now)
	for _, tc := range []struct {
		kind domain.ParticipantKind
		want domain.ParticipantKind
	}{
		{"", domain.KindNormal},
		{domain.KindNormal, domain.KindNormal},
		{domain.KindAgent, domain.KindAgent},
	} {
		g, err := s.Sign(Request{Room: "demo-1", Identity: "agent-a", Kind: tc.kind})
		if err != nil {
			t.Fatalf("Sign(%q): %v", tc.kind, err)
		}
		c, err := v.Verify(g.Token)
		if err != nil {
			t.Fatalf("Verify: %v", err)
		}
		if c.Kind != tc.want || g.Claims.Kind != tc.want {
			t.Fatalf("kind %q: verified %q, issued %q", tc.kind, c.Kind, g.Claims.Kind)
		}
	}
}

func TestSignerConcurrentUse(t *testing.T) {
	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	s, v := newPair(t, now)

	errc := make(chan error, 32)
	for i := 0; i < cap(errc); i++ {
		go func() {
			g, err := s.Sign(Request{Room: "demo-1", Identity: "patient-42"})
			if err == nil {
				_, err = v.Verify(g.Token)
			}
			errc <- err
		}()
	}
	for i := 0; i < cap(errc); i++ {
		if err := <-errc; err != nil {
			t.Fatalf("concurrent sign/verify: %v", err)
		}
	}
}
