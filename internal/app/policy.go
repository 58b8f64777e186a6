package app

import "github.com/dkeye/VoiceAgent/internal/core"

// BackpressureAction is what the orchestrator does with a member whose
// signalling queue overflowed.
type BackpressureAction int

const (
	// DropFrame loses the frame and keeps the member.
	DropFrame BackpressureAction = iota
	KickMember
)

func (a BackpressureAction) String() string {
	if a == KickMember {
		return "kick"
	}
	return "drop"
}

type Policy interface {
	OnBackPressure(room core.RoomService, member core.MemberSession) BackpressureAction
}

// SimplePolicy kicks every slow member. A client that misses a presence or
// track frame renders a stale roster until it reconnects, so keeping it in
// the room is worse than forcing the reconnect.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(core.RoomService, core.MemberSession) BackpressureAction {
	return KickMember
}
