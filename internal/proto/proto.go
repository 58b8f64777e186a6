// Package proto is the JSON signalling vocabulary spoken over the room
// websocket. Every frame is a text message with a "type" discriminator.
package proto

import (
	"encoding/json"

	"github.com/dkeye/VoiceAgent/internal/domain"
)

// Client → server.
const (
	TypeJoin       = "join"
	TypeLeave      = "leave"
	TypePing       = "ping"
	TypeTrack      = "track"
	TypeAttributes = "attributes"
)

// Server → client.
const (
	TypeJoined            = "joined"
	TypeParticipantJoined = "participant_joined"
	TypeParticipantLeft   = "participant_left"
	TypeTrackState        = "track_state"
	TypeAttrsChanged      = "attributes_changed"
	TypePong              = "pong"
	TypeError             = "error"
)

// Both directions.
const (
	TypeOffer     = "offer"
	TypeAnswer    = "answer"
	TypeCandidate = "candidate"
	TypeData      = "data"
)

// Error codes carried by Error frames.
const (
	CodeBadPayload   = "bad_payload"
	CodeUnauthorized = "unauthorized"
	CodeForbidden    = "forbidden"
	CodeRateLimited  = "rate_limited"
	CodeNotJoined    = "not_joined"
	CodeUnavailable  = "unavailable"
	CodeReplaced     = "replaced"
)

// Envelope is decoded first to dispatch on Type.
type Envelope struct {
	Type string `json:"type"`
}

type Join struct {
	Type  string                 `json:"type"`
	Token string                 `json:"token"`
	Kind  domain.ParticipantKind `json:"kind,omitempty"`
}

// ParticipantInfo is the wire view of a room member.
type ParticipantInfo struct {
	Identity domain.Identity        `json:"identity"`
	Kind     domain.ParticipantKind `json:"kind"`
	Metadata string                 `json:"metadata,omitempty"`
	Tracks   []domain.Track         `json:"tracks,omitempty"`
	State    string                 `json:"state,omitempty"`
}

type Joined struct {
	Type         string            `json:"type"`
	Room         domain.RoomName   `json:"room"`
	Identity     domain.Identity   `json:"identity"`
	Participants []ParticipantInfo `json:"participants"`
}

type ParticipantJoined struct {
	Type        string          `json:"type"`
	Participant ParticipantInfo `json:"participant"`
}

type ParticipantLeft struct {
	Type     string          `json:"type"`
	Identity domain.Identity `json:"identity"`
}

// Track announces a local publication change (client → server).
type Track struct {
	Type   string           `json:"type"`
	Kind   domain.TrackKind `json:"kind"`
	Active bool             `json:"active"`
}

type TrackState struct {
	Type     string           `json:"type"`
	Identity domain.Identity  `json:"identity"`
	Kind     domain.TrackKind `json:"kind"`
	Active   bool             `json:"active"`
}

type Attributes struct {
	Type  string `json:"type"`
	State string `json:"state"`
}

type AttributesChanged struct {
	Type     string          `json:"type"`
	Identity domain.Identity `json:"identity"`
	State    string          `json:"state"`
}

// Data carries an application payload. From is set by the server; To is
// optional on the way in and means "whole room" when empty.
type Data struct {
	Type    string          `json:"type"`
	From    domain.Identity `json:"from,omitempty"`
	To      domain.Identity `json:"to,omitempty"`
	Payload []byte          `json:"payload"`
}

type SDP struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type Candidate struct {
	Type          string `json:"type"`
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid,omitempty"`
	SDPMLineIndex uint16 `json:"sdpMLineIndex,omitempty"`
}

type Error struct {
	Type  string `json:"type"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

// NewError builds an Error frame.
func NewError(code, msg string) Error { return Error{Type: TypeError, Code: code, Error: msg} }

// Peek returns the frame type.
func Peek(data []byte) (string, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", err
	}
	return env.Type, nil
}
