package rtclient

import (
	"context"
	"encoding/json"

	"github.com/dkeye/VoiceAgent/internal/errs"
	"github.com/dkeye/VoiceAgent/internal/proto"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (s *Session) readLoop(ctx context.Context, ws *websocket.Conn) {
	var refused error
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if refused != nil {
				err = refused
			}
			s.shutdown(errs.E("transport", errs.ErrConnection, err), false)
			return
		}
		// Kicks arrive as an error frame right before the socket closes.
		if r := s.dispatch(ctx, data); r != nil && (r.Code == proto.CodeReplaced || r.Code == proto.CodeUnavailable) {
			refused = r
		}
	}
}

// dispatch handles one server frame. It returns the server's error frame, if
// that is what arrived.
func (s *Session) dispatch(ctx context.Context, data []byte) *RefusedError {
	typ, err := proto.Peek(data)
	if err != nil {
		log.Debug().Err(err).Str("module", "rtclient").Msg("undecodable frame")
		return nil
	}
	switch typ {
	case proto.TypeParticipantJoined:
		var m proto.ParticipantJoined
		if decodeOK(data, &m) {
			s.emitParticipant(m.Participant)
		}
	case proto.TypeParticipantLeft:
		var m proto.ParticipantLeft
		if decodeOK(data, &m) {
			s.emit(Event{Kind: EventLeft, Identity: m.Identity})
		}
	case proto.TypeTrackState:
		var m proto.TrackState
		if decodeOK(data, &m) {
			kind := EventTrackRemoved
			if m.Active {
				kind = EventTrackAdded
			}
			s.emit(Event{Kind: kind, Identity: m.Identity, Track: m.Kind})
		}
	case proto.TypeAttrsChanged:
		var m proto.AttributesChanged
		if decodeOK(data, &m) {
			s.emit(Event{Kind: EventAttributesChanged, Identity: m.Identity, State: m.State})
		}
	case proto.TypeData:
		var m proto.Data
		if decodeOK(data, &m) {
			s.emit(Event{Kind: EventDataReceived, Identity: m.From, Data: m.Payload})
		}
	case proto.TypeOffer:
		var m proto.SDP
		if decodeOK(data, &m) {
			s.onOffer(ctx, m.SDP)
		}
	case proto.TypeAnswer:
		var m proto.SDP
		if decodeOK(data, &m) {
			s.onAnswer(m.SDP)
		}
	case proto.TypeCandidate:
		var m proto.Candidate
		if decodeOK(data, &m) {
			s.onCandidate(m)
		}
	case proto.TypeError:
		var m proto.Error
		if decodeOK(data, &m) {
			refused := &RefusedError{Code: m.Code, Message: m.Error}
			s.emit(Event{Kind: EventRemoteError, Err: refused})
			return refused
		}
	case proto.TypePong:
	default:
		log.Debug().Str("module", "rtclient").Str("type", typ).Msg("unknown frame")
	}
	return nil
}

func decodeOK(data []byte, v any) bool {
	if err := decode(data, v); err != nil {
		log.Debug().Err(err).Str("module", "rtclient").Msg("bad frame payload")
		return false
	}
	return true
}
