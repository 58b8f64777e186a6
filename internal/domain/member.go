package domain

// Member represents a participant's presence in a room as seen by the room server.
// No transport or lifecycle logic here.
type Member struct {
	Participant Participant
	Tracks      map[TrackKind]bool
	State       string
}

// NewMember avoids raw literals in adapters and keeps construction obvious.
func NewMember(p Participant) *Member {
	return &Member{Participant: p, Tracks: make(map[TrackKind]bool)}
}
