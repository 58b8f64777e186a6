package core

import (
	"github.com/dkeye/VoiceAgent/internal/domain"
	"github.com/dkeye/VoiceAgent/internal/grant"
)

// SessionID identifies one signalling connection.
type SessionID string

// MemberSession binds domain.Member and its transport endpoints.
// This is what a room stores and fans out to.
type MemberSession interface {
	Meta() *domain.Member
	Grant() grant.Claims
	Signal() SignalConnection
	Media() MediaConnection
	UpdateSignal(SignalConnection) MemberSession
	UpdateMedia(MediaConnection) MemberSession

	SetTrack(kind domain.TrackKind, active bool)
	SetState(state string)
	Snapshot() MemberDTO
}
