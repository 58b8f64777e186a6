package core

import (
	"time"

	"github.com/dkeye/VoiceAgent/internal/domain"
)

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []MemberSession
}

// MemberDTO is a read-only view for APIs (no transport fields).
type MemberDTO struct {
	Identity domain.Identity        `json:"identity"`
	Kind     domain.ParticipantKind `json:"kind"`
	Metadata string                 `json:"metadata,omitempty"`
	Tracks   []domain.Track         `json:"tracks,omitempty"`
	State    string                 `json:"state,omitempty"`
}

// RoomService is the core-facing API of a room.
// It owns the membership set but never touches transport resources.
type RoomService interface {
	Room() *domain.Room
	MemberCount() int
	MembersSnapshot() []MemberDTO

	AddMember(sid SessionID, ms MemberSession)
	RemoveMember(sid SessionID)
	// SessionOf resolves the live connection of an identity.
	SessionOf(id domain.Identity) (SessionID, MemberSession, bool)
	Broadcast(from SessionID, data Frame) PublishResult
	SendTo(to domain.Identity, data Frame) error
}

type RoomInfo struct {
	Name        domain.RoomName `json:"name"`
	MemberCount int             `json:"member_count"`
	CreatedAt   time.Time       `json:"created_at"`
}

type RoomManager interface {
	GetOrCreate(name domain.RoomName) RoomService
	Get(name domain.RoomName) (RoomService, bool)
	List() []RoomInfo
	StopRoom(name domain.RoomName)
}
