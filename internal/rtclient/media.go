package rtclient

import (
	"context"
	"fmt"

	"github.com/dkeye/VoiceAgent/internal/adapters/rtc"
	"github.com/dkeye/VoiceAgent/internal/domain"
	"github.com/dkeye/VoiceAgent/internal/errs"
	"github.com/dkeye/VoiceAgent/internal/proto"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// setupMedia creates the PeerConnection and the local audio and video tracks.
// Both tracks are negotiated up front; toggles only gate the samples and
// tell the room, so no renegotiation is needed for them.
func (s *Session) setupMedia(ctx context.Context, identity domain.Identity) error {
	pc, err := webrtc.NewPeerConnection(rtc.WebRTCConfig(s.opts.ICEServers))
	if err != nil {
		return fmt.Errorf("new peer connection: %w", err)
	}
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", string(identity))
	if err != nil {
		_ = pc.Close()
		return fmt.Errorf("audio track: %w", err)
	}
	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		"video", string(identity))
	if err != nil {
		_ = pc.Close()
		return fmt.Errorf("video track: %w", err)
	}
	for _, tr := range []webrtc.TrackLocal{audio, video} {
		sender, err := pc.AddTrack(tr)
		if err != nil {
			_ = pc.Close()
			return fmt.Errorf("add %s track: %w", tr.Kind(), err)
		}
		go drainRTCP(sender)
	}

	pc.OnTrack(s.onRemoteTrack)
	pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		log.Debug().Str("module", "rtclient").Str("peer_connection_state", st.String()).Msg("peer state")
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateClosed || ctx.Err() != nil {
		_ = pc.Close()
		return errs.E("media", errs.ErrClosed, nil)
	}
	s.identity = identity
	s.pc, s.audio, s.video = pc, audio, video
	return nil
}

func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (s *Session) onRemoteTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	publisher := domain.Identity(track.StreamID())
	log.Debug().
		Str("module", "rtclient").
		Str("publisher", string(publisher)).
		Str("kind", track.Kind().String()).
		Msg("remote track")
	if s.opts.OnRemoteTrack != nil {
		s.opts.OnRemoteTrack(publisher, track)
		return
	}
	for {
		if _, _, err := track.ReadRTP(); err != nil {
			return
		}
	}
}

func (s *Session) peer() *webrtc.PeerConnection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pc
}

// negotiate sends the initial offer once ICE gathering completes.
func (s *Session) negotiate(ctx context.Context) {
	pc := s.peer()
	if pc == nil {
		return
	}
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		log.Error().Err(err).Str("module", "rtclient").Msg("create offer")
		return
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		log.Error().Err(err).Str("module", "rtclient").Msg("set local offer")
		return
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return
	}
	if err := s.write(proto.SDP{Type: proto.TypeOffer, SDP: pc.LocalDescription().SDP}); err != nil {
		log.Warn().Err(err).Str("module", "rtclient").Msg("send offer")
	}
}

func (s *Session) onAnswer(sdp string) {
	pc := s.peer()
	if pc == nil {
		return
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}); err != nil {
		log.Error().Err(err).Str("module", "rtclient").Msg("apply answer")
		return
	}
	s.flushCandidates(pc)
}

// onOffer answers a server renegotiation, sent when subscriptions change.
func (s *Session) onOffer(ctx context.Context, sdp string) {
	pc := s.peer()
	if pc == nil {
		return
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}); err != nil {
		log.Error().Err(err).Str("module", "rtclient").Msg("apply server offer")
		return
	}
	s.flushCandidates(pc)
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		log.Error().Err(err).Str("module", "rtclient").Msg("create answer")
		return
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		log.Error().Err(err).Str("module", "rtclient").Msg("set local answer")
		return
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return
	}
	if err := s.write(proto.SDP{Type: proto.TypeAnswer, SDP: pc.LocalDescription().SDP}); err != nil {
		log.Warn().Err(err).Str("module", "rtclient").Msg("send answer")
	}
}

// onCandidate applies a remote candidate, holding it until a remote
// description exists.
func (s *Session) onCandidate(c proto.Candidate) {
	ci := webrtc.ICECandidateInit{Candidate: c.Candidate}
	if c.SDPMid != "" {
		mid := c.SDPMid
		ci.SDPMid = &mid
	}
	idx := c.SDPMLineIndex
	ci.SDPMLineIndex = &idx

	s.mu.Lock()
	pc := s.pc
	if pc == nil || !s.remoteSet {
		s.pendingCandidates = append(s.pendingCandidates, ci)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	if err := pc.AddICECandidate(ci); err != nil {
		log.Debug().Err(err).Str("module", "rtclient").Msg("add ice candidate")
	}
}

func (s *Session) flushCandidates(pc *webrtc.PeerConnection) {
	s.mu.Lock()
	s.remoteSet = true
	pending := s.pendingCandidates
	s.pendingCandidates = nil
	s.mu.Unlock()
	for _, ci := range pending {
		if err := pc.AddICECandidate(ci); err != nil {
			log.Debug().Err(err).Str("module", "rtclient").Msg("add buffered ice candidate")
		}
	}
}
