package grant

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dkeye/VoiceAgent/internal/domain"
)

// Permissions scope what the holder may do inside the room.
type Permissions struct {
	Join        bool `json:"join"`
	Publish     bool `json:"publish"`
	Subscribe   bool `json:"subscribe"`
	PublishData bool `json:"publishData"`
}

// DefaultPermissions grants everything a voice client needs.
func DefaultPermissions() Permissions {
	return Permissions{Join: true, Publish: true, Subscribe: true, PublishData: true}
}

// Claims is the parsed, validated content of a grant.
type Claims struct {
	ID       string                 `json:"id"`
	Issuer   string                 `json:"issuer"`
	Identity string                 `json:"identity"`
	Room     string                 `json:"room"`
	Metadata string                 `json:"metadata,omitempty"`
	// Kind is fixed by the issuer; the room trusts nothing else.
	Kind        domain.ParticipantKind `json:"kind"`
	IssuedAt    time.Time              `json:"issuedAt"`
	ExpiresAt   time.Time              `json:"expiresAt"`
	Permissions Permissions            `json:"permissions"`
}

// TTL is the validity window the grant was issued with.
func (c Claims) TTL() time.Duration { return c.ExpiresAt.Sub(c.IssuedAt) }

// videoGrant keeps the LiveKit claim layout so the same grant works with
// LiveKit-compatible servers.
type videoGrant struct {
	Room           string `json:"room"`
	RoomJoin       bool   `json:"roomJoin"`
	CanPublish     bool   `json:"canPublish"`
	CanSubscribe   bool   `json:"canSubscribe"`
	CanPublishData bool   `json:"canPublishData"`
}

type tokenClaims struct {
	jwt.RegisteredClaims
	Metadata string     `json:"metadata,omitempty"`
	Kind     string     `json:"kind,omitempty"`
	Video    videoGrant `json:"video"`
}

func (tc *tokenClaims) toClaims() Claims {
	c := Claims{
		ID:       tc.ID,
		Issuer:   tc.Issuer,
		Identity: tc.Subject,
		Room:     tc.Video.Room,
		Metadata: tc.Metadata,
		Kind:     domain.ParseParticipantKind(tc.Kind),
		Permissions: Permissions{
			Join:        tc.Video.RoomJoin,
			Publish:     tc.Video.CanPublish,
			Subscribe:   tc.Video.CanSubscribe,
			PublishData: tc.Video.CanPublishData,
		},
	}
	if tc.IssuedAt != nil {
		c.IssuedAt = tc.IssuedAt.Time
	}
	if tc.ExpiresAt != nil {
		c.ExpiresAt = tc.ExpiresAt.Time
	}
	return c
}
