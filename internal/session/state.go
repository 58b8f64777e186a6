package session

import (
	"sort"
	"time"

	"github.com/dkeye/VoiceAgent/internal/domain"
)

// Participant is a remote room member as observed by the current session.
type Participant struct {
	Identity domain.Identity
	Kind     domain.ParticipantKind
	Metadata string
	Tracks   map[domain.TrackKind]bool
	State    string
}

func (p Participant) clone() Participant {
	out := p
	out.Tracks = make(map[domain.TrackKind]bool, len(p.Tracks))
	for k, v := range p.Tracks {
		out.Tracks[k] = v
	}
	return out
}

// Snapshot is a point-in-time copy of the orchestrator state. It shares no
// memory with the orchestrator.
type Snapshot struct {
	SessionID     string
	Room          domain.RoomName
	LocalIdentity domain.Identity
	Phase         domain.Phase
	Media         domain.MediaFlags
	Participants  []Participant
	AgentIdentity domain.Identity
	AgentState    string
	Messages      []domain.Message
	LastError     error
}

// Participant returns the member with identity id, if present.
func (s Snapshot) Participant(id domain.Identity) (Participant, bool) {
	for _, p := range s.Participants {
		if p.Identity == id {
			return p, true
		}
	}
	return Participant{}, false
}

type NoticeKind int

const (
	NoticeConnectionFailed NoticeKind = iota + 1
	NoticeConnectionLost
	NoticeMediaFailed
	NoticeWarning
)

func (k NoticeKind) String() string {
	switch k {
	case NoticeConnectionFailed:
		return "connection_failed"
	case NoticeConnectionLost:
		return "connection_lost"
	case NoticeMediaFailed:
		return "media_failed"
	case NoticeWarning:
		return "warning"
	default:
		return "unknown"
	}
}

// Notice is a user-visible message. Protocol anomalies never produce one.
type Notice struct {
	Kind    NoticeKind
	Message string
	Err     error
	At      time.Time
}

// sessionState is the mutable state of the current session, guarded by
// Orchestrator.mu.
type sessionState struct {
	id            string
	room          domain.RoomName
	localIdentity domain.Identity
	phase         domain.Phase
	media         domain.MediaFlags
	participants  map[domain.Identity]*Participant
	agentIdentity domain.Identity
	agentState    string
	messages      []domain.Message
	lastError     error
	// closedErr holds a transport close seen before the connect result.
	closedErr error
}

func newSessionState() sessionState {
	return sessionState{
		phase:        domain.PhaseIdle,
		participants: make(map[domain.Identity]*Participant),
		agentState:   domain.AgentStateInitializing,
	}
}

func (s *sessionState) snapshot() Snapshot {
	out := Snapshot{
		SessionID:     s.id,
		Room:          s.room,
		LocalIdentity: s.localIdentity,
		Phase:         s.phase,
		Media:         s.media,
		AgentIdentity: s.agentIdentity,
		AgentState:    s.agentState,
		LastError:     s.lastError,
		Participants:  make([]Participant, 0, len(s.participants)),
		Messages:      append([]domain.Message(nil), s.messages...),
	}
	for _, p := range s.participants {
		out.Participants = append(out.Participants, p.clone())
	}
	sort.Slice(out.Participants, func(i, j int) bool {
		return out.Participants[i].Identity < out.Participants[j].Identity
	})
	return out
}

func (s *sessionState) appendMessage(m domain.Message, retention int) {
	s.messages = append(s.messages, m)
	if retention > 0 && len(s.messages) > retention {
		s.messages = append([]domain.Message(nil), s.messages[len(s.messages)-retention:]...)
	}
}
