package domain

type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

func (k TrackKind) Valid() bool { return k == TrackAudio || k == TrackVideo }

// Track is one published stream of a participant.
type Track struct {
	Kind   TrackKind `json:"kind"`
	Active bool      `json:"active"`
}
