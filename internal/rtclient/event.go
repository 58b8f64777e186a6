package rtclient

import (
	"fmt"

	"github.com/dkeye/VoiceAgent/internal/domain"
)

// ConnectionState is the transport-level connection state reported by
// EventStateChanged.
type ConnectionState string

const (
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
)

type EventKind int

const (
	EventJoined EventKind = iota + 1
	EventLeft
	EventTrackAdded
	EventTrackRemoved
	EventDataReceived
	EventAttributesChanged
	EventStateChanged
	EventRemoteError
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventJoined:
		return "joined"
	case EventLeft:
		return "left"
	case EventTrackAdded:
		return "track_added"
	case EventTrackRemoved:
		return "track_removed"
	case EventDataReceived:
		return "data_received"
	case EventAttributesChanged:
		return "attributes_changed"
	case EventStateChanged:
		return "state_changed"
	case EventRemoteError:
		return "remote_error"
	case EventClosed:
		return "closed"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is a transport notification. Which fields are set depends on Kind:
//
//	EventJoined             Identity, ParticipantKind, Metadata, Tracks, State
//	EventLeft               Identity
//	EventTrackAdded/Removed Identity, Track
//	EventDataReceived       Identity, Data
//	EventAttributesChanged  Identity, State
//	EventStateChanged       Connection
//	EventRemoteError        Err (a *RefusedError)
//	EventClosed             Err (nil after Disconnect)
type Event struct {
	Kind            EventKind
	Identity        domain.Identity
	ParticipantKind domain.ParticipantKind
	Metadata        string
	Tracks          []domain.Track
	Track           domain.TrackKind
	Data            []byte
	State           string
	Connection      ConnectionState
	Err             error
}

// RefusedError is an error frame sent by the room server.
type RefusedError struct {
	Code    string
	Message string
}

func (e *RefusedError) Error() string {
	if e.Message == "" {
		return "room refused: " + e.Code
	}
	return "room refused: " + e.Code + ": " + e.Message
}
