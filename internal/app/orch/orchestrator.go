package orch

import (
	"encoding/json"
	"errors"

	"github.com/dkeye/VoiceAgent/internal/app"
	"github.com/dkeye/VoiceAgent/internal/app/sfu"
	"github.com/dkeye/VoiceAgent/internal/core"
	"github.com/dkeye/VoiceAgent/internal/domain"
	"github.com/dkeye/VoiceAgent/internal/metrics"
	"github.com/dkeye/VoiceAgent/internal/proto"
	"github.com/rs/zerolog/log"
)

var ErrNotInRoom = errors.New("not in a room")

type Orchestrator struct {
	Registry *app.Registry
	Rooms    core.RoomManager
	Policy   app.Policy
	Relays   *sfu.RelayManager
	Metrics  *metrics.Metrics
}

func encode(v any) core.Frame {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("marshal frame")
		return nil
	}
	return b
}

// Send writes v to a single signalling connection.
func Send(sig core.SignalConnection, v any) error {
	if sig == nil {
		return core.ErrUnknownMember
	}
	frame := encode(v)
	if frame == nil {
		return errors.New("unencodable frame")
	}
	return sig.TrySend(frame)
}

func participantInfo(dto core.MemberDTO) proto.ParticipantInfo {
	return proto.ParticipantInfo{
		Identity: dto.Identity,
		Kind:     dto.Kind,
		Metadata: dto.Metadata,
		Tracks:   dto.Tracks,
		State:    dto.State,
	}
}

// broadcast fans v out to the room (excluding from) and applies the
// back-pressure policy to members that could not keep up.
func (o *Orchestrator) broadcast(room core.RoomService, from core.SessionID, v any) {
	frame := encode(v)
	if frame == nil {
		return
	}
	res := room.Broadcast(from, frame)
	o.applyPolicy(room, res.Dropped)
}

func (o *Orchestrator) applyPolicy(room core.RoomService, dropped []core.MemberSession) {
	if o.Policy == nil {
		return
	}
	for _, slow := range dropped {
		action := o.Policy.OnBackPressure(room, slow)
		sid, cur, ok := room.SessionOf(slow.Meta().Participant.Identity)
		if !ok || cur != slow {
			continue
		}
		log.Warn().Str("module", "orch").Str("sid", string(sid)).Stringer("action", action).Msg("slow member")
		if action == app.KickMember {
			o.KickBySID(sid, proto.CodeUnavailable, "signalling queue full")
		}
	}
}

// SendData relays an application payload from sid to one identity or, when to
// is empty, to the whole room.
func (o *Orchestrator) SendData(sid core.SessionID, to domain.Identity, payload []byte) error {
	roomName, sess, ok := o.Registry.RoomOf(sid)
	if !ok {
		return ErrNotInRoom
	}
	room := o.Rooms.GetOrCreate(roomName)
	msg := proto.Data{
		Type:    proto.TypeData,
		From:    sess.Meta().Participant.Identity,
		Payload: payload,
	}
	if to == "" {
		o.broadcast(room, sid, msg)
		return nil
	}
	_, dst, ok := room.SessionOf(to)
	if !ok {
		return core.ErrUnknownMember
	}
	if err := Send(dst.Signal(), msg); err != nil {
		if !errors.Is(err, core.ErrUnknownMember) {
			o.applyPolicy(room, []core.MemberSession{dst})
		}
		return err
	}
	return nil
}

// SetTrack records a publication change, pauses or resumes its relays and
// tells the room.
func (o *Orchestrator) SetTrack(sid core.SessionID, kind domain.TrackKind, active bool) error {
	roomName, sess, ok := o.Registry.RoomOf(sid)
	if !ok {
		return ErrNotInRoom
	}
	sess.SetTrack(kind, active)
	if o.Relays != nil {
		o.Relays.SetMuted(sid, kind, !active)
	}
	o.broadcast(o.Rooms.GetOrCreate(roomName), sid, proto.TrackState{
		Type:     proto.TypeTrackState,
		Identity: sess.Meta().Participant.Identity,
		Kind:     kind,
		Active:   active,
	})
	return nil
}

func (o *Orchestrator) SetAttributes(sid core.SessionID, state string) error {
	roomName, sess, ok := o.Registry.RoomOf(sid)
	if !ok {
		return ErrNotInRoom
	}
	sess.SetState(state)
	o.broadcast(o.Rooms.GetOrCreate(roomName), sid, proto.AttributesChanged{
		Type:     proto.TypeAttrsChanged,
		Identity: sess.Meta().Participant.Identity,
		State:    state,
	})
	return nil
}

func (o *Orchestrator) observe(room core.RoomService) {
	if o.Metrics == nil {
		return
	}
	o.Metrics.RoomMembers.WithLabelValues(string(room.Room().Name)).Set(float64(room.MemberCount()))
}
