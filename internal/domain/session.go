package domain

import "time"

// Phase is the lifecycle state of a client session.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseConnecting
	PhaseConnected
	PhaseDisconnecting
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseConnecting:
		return "connecting"
	case PhaseConnected:
		return "connected"
	case PhaseDisconnecting:
		return "disconnecting"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// AgentStateInitializing is shown while no agent is present or it has not
// published a state yet.
const AgentStateInitializing = "initializing"

// Message is one entry of the display-only message log.
type Message struct {
	From      Identity  `json:"from"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
	Local     bool      `json:"local,omitempty"`
}

// MediaFlags are the local publication toggles.
type MediaFlags struct {
	AudioEnabled bool `json:"audioEnabled"`
	VideoEnabled bool `json:"videoEnabled"`
}
