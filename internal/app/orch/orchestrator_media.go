package orch

import (
	"context"

	"github.com/dkeye/VoiceAgent/internal/app/sfu"
	"github.com/dkeye/VoiceAgent/internal/core"
	"github.com/dkeye/VoiceAgent/internal/proto"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

func (o *Orchestrator) BindMediaHandlers(mc core.MediaConnection, sid core.SessionID) {
	mc.OnTrack(func(trackCtx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		o.OnTrack(trackCtx, sid, track)
	})
	mc.OnClosed(func() { o.OnMediaDisconnect(sid) })
}

func (o *Orchestrator) OnMediaDisconnect(sid core.SessionID) {
	o.cleanupMedia(sid)
}

func (o *Orchestrator) cleanupMedia(sid core.SessionID) {
	if o.Relays != nil {
		o.detach(o.Relays.StopRelay(sid))

		roomName, _, ok := o.Registry.RoomOf(sid)
		if ok {
			for _, snap := range o.Registry.MembersOfRoom(roomName) {
				o.Relays.Unsubscribe(snap.SID, sid)
			}
		}
	}

	if sess, ok := o.Registry.GetSession(sid); ok {
		if mc := sess.Media(); mc != nil {
			sess.UpdateMedia(nil)
			mc.Close()
		}
	}
}

// detach removes forwarded tracks from their subscribers and renegotiates
// each affected subscriber once.
func (o *Orchestrator) detach(list []sfu.Detached) {
	touched := make(map[core.SessionID]struct{})
	for _, d := range list {
		sess, ok := o.Registry.GetSession(d.Subscriber)
		if !ok {
			continue
		}
		mc := sess.Media()
		if mc == nil || mc.IsClosed() {
			continue
		}
		if err := mc.RemoveLocalTrack(d.Sender); err != nil {
			log.Warn().Err(err).Str("module", "sfu").Str("sid", string(d.Subscriber)).Msg("remove forwarded track")
			continue
		}
		touched[d.Subscriber] = struct{}{}
	}
	for sid := range touched {
		o.Negotiate(sid)
	}
}

// OnTrack is called when a new remote media track appears for a given session.
func (o *Orchestrator) OnTrack(ctx context.Context, sid core.SessionID, track *webrtc.TrackRemote) {
	if o.Relays == nil {
		return
	}
	sess, ok := o.Registry.GetSession(sid)
	if !ok || sess.Media() == nil {
		return
	}
	relay := o.Relays.StartRelay(ctx, sid, sess.Media(), track)

	if _, _, ok := o.Registry.RoomOf(sid); !ok {
		log.Info().
			Str("module", "sfu").
			Str("sid", string(sid)).
			Msg("OnTrack: no room for sid")
		return
	}

	streamID := string(sess.Meta().Participant.Identity)
	for _, snap := range o.Registry.RoomMates(sid) {
		mc := snap.Session.Media()
		if mc == nil || !snap.Session.Grant().Permissions.Subscribe {
			continue
		}
		added, err := o.Relays.SubscribeTrack(sid, relay, snap.SID, mc, streamID)
		if err != nil {
			log.Error().Err(err).Str("module", "sfu").Str("dst_sid", string(snap.SID)).Msg("subscribe to new track")
			continue
		}
		if added {
			o.Negotiate(snap.SID)
		}
	}
}

// OnMediaReady is called when MediaConnection is attached to the session (offer/answer done).
// It subscribes this member to all existing relays in the same room.
func (o *Orchestrator) OnMediaReady(sid core.SessionID) {
	if o.Relays == nil {
		return
	}
	sess, ok := o.Registry.GetSession(sid)
	if !ok || !sess.Grant().Permissions.Subscribe {
		return
	}
	mc := sess.Media()
	if mc == nil {
		return
	}

	total := 0
	for _, snap := range o.Registry.RoomMates(sid) {
		streamID := string(snap.Session.Meta().Participant.Identity)
		added, err := o.Relays.Subscribe(snap.SID, sid, mc, streamID)
		if err != nil {
			log.Error().Err(err).Str("module", "sfu").Str("src_sid", string(snap.SID)).Msg("subscribe to existing tracks")
		}
		total += added
	}
	if total > 0 {
		o.Negotiate(sid)
	}
}

// Negotiate sends a server offer to sid. A negotiation already in flight
// defers the offer until its answer arrives.
func (o *Orchestrator) Negotiate(sid core.SessionID) {
	sess, ok := o.Registry.GetSession(sid)
	if !ok {
		return
	}
	mc := sess.Media()
	if mc == nil || mc.IsClosed() {
		return
	}
	offer, err := mc.CreateAndSetOffer()
	if err != nil {
		log.Error().Err(err).Str("module", "sfu").Str("sid", string(sid)).Msg("create offer")
		return
	}
	if offer == nil {
		log.Debug().Str("module", "sfu").Str("sid", string(sid)).Msg("negotiation pending")
		return
	}
	if err := Send(sess.Signal(), proto.SDP{Type: proto.TypeOffer, SDP: offer.SDP}); err != nil {
		log.Warn().Err(err).Str("module", "sfu").Str("sid", string(sid)).Msg("send offer")
	}
}

// OnAnswer completes a server-initiated negotiation.
func (o *Orchestrator) OnAnswer(sid core.SessionID, sdp string) error {
	sess, ok := o.Registry.GetSession(sid)
	if !ok || sess.Media() == nil {
		return ErrNotInRoom
	}
	again, err := sess.Media().ApplyAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp})
	if err != nil {
		return err
	}
	if again {
		o.Negotiate(sid)
	}
	return nil
}
