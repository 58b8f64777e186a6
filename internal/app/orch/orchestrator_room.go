package orch

import (
	"github.com/dkeye/VoiceAgent/internal/core"
	"github.com/dkeye/VoiceAgent/internal/domain"
	"github.com/dkeye/VoiceAgent/internal/proto"
	"github.com/rs/zerolog/log"
)

// Join adds the session bound to sid to its room and announces it. A previous
// connection of the same identity is replaced. It returns the members that
// were present before the join.
func (o *Orchestrator) Join(sid core.SessionID) ([]proto.ParticipantInfo, error) {
	roomName, sess, ok := o.Registry.RoomOf(sid)
	if !ok {
		return nil, ErrNotInRoom
	}
	room := o.Rooms.GetOrCreate(roomName)
	identity := sess.Meta().Participant.Identity

	if oldSID, _, ok := room.SessionOf(identity); ok && oldSID != sid {
		log.Info().Str("module", "orch").Str("sid", string(oldSID)).Str("identity", string(identity)).Msg("replacing connection")
		o.kick(oldSID, proto.CodeReplaced, "identity joined from another connection", false)
	}

	existing := room.MembersSnapshot()
	room.AddMember(sid, sess)
	o.observe(room)
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(roomName)).Str("identity", string(identity)).Msg("added to room")

	o.broadcast(room, sid, proto.ParticipantJoined{
		Type:        proto.TypeParticipantJoined,
		Participant: participantInfo(sess.Snapshot()),
	})

	out := make([]proto.ParticipantInfo, 0, len(existing))
	for _, dto := range existing {
		out = append(out, participantInfo(dto))
	}
	return out, nil
}

// Leave removes sid from its room and announces the departure. Safe to call
// repeatedly.
func (o *Orchestrator) Leave(sid core.SessionID) {
	o.leave(sid, true)
}

func (o *Orchestrator) leave(sid core.SessionID, announce bool) {
	roomName, sess, ok := o.Registry.RoomOf(sid)
	if !ok {
		return
	}
	o.cleanupMedia(sid)
	room := o.Rooms.GetOrCreate(roomName)
	room.RemoveMember(sid)
	o.Registry.RemoveRoom(sid)
	o.observe(room)
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(roomName)).Msg("left room")

	if announce {
		o.broadcast(room, sid, proto.ParticipantLeft{
			Type:     proto.TypeParticipantLeft,
			Identity: sess.Meta().Participant.Identity,
		})
	}
}

// KickBySID tells the member why, removes it from its room and closes its
// signalling connection.
func (o *Orchestrator) KickBySID(sid core.SessionID, code, reason string) {
	o.kick(sid, code, reason, true)
}

func (o *Orchestrator) kick(sid core.SessionID, code, reason string, announce bool) {
	sess, ok := o.Registry.GetSession(sid)
	if !ok {
		return
	}
	sig := sess.Signal()
	_ = Send(sig, proto.NewError(code, reason))
	o.leave(sid, announce)
	if sig != nil {
		sig.Close()
	}
}

// EvictRoom kicks every member of name and forgets the room.
func (o *Orchestrator) EvictRoom(name domain.RoomName, reason string) {
	for _, snap := range o.Registry.MembersOfRoom(name) {
		o.kick(snap.SID, proto.CodeUnavailable, reason, false)
	}
	o.Rooms.StopRoom(name)
	if o.Metrics != nil {
		o.Metrics.RoomMembers.DeleteLabelValues(string(name))
	}
}

// Shutdown evicts all rooms.
func (o *Orchestrator) Shutdown(reason string) {
	for _, info := range o.Rooms.List() {
		o.EvictRoom(info.Name, reason)
	}
}
