package sfu

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/VoiceAgent/internal/core"
	"github.com/dkeye/VoiceAgent/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Detached is an out track removed from a subscriber's PeerConnection
// bookkeeping. The caller removes Sender from the subscriber and renegotiates.
type Detached struct {
	Subscriber core.SessionID
	Sender     *webrtc.RTPSender
}

type publisher struct {
	media  core.MediaConnection
	relays map[string]*Relay // by remote track id
}

type RelayManager struct {
	mu         sync.RWMutex
	publishers map[core.SessionID]*publisher
}

func NewRelayManager() *RelayManager {
	return &RelayManager{
		publishers: make(map[core.SessionID]*publisher),
	}
}

// StartRelay creates a Relay for a remote track of sid and starts its loop.
// A relay already running for the same track id is replaced.
func (m *RelayManager) StartRelay(ctx context.Context, sid core.SessionID, media core.MediaConnection, track *webrtc.TrackRemote) *Relay {
	logger := log.With().
		Str("module", "relay").
		Str("sid", string(sid)).
		Str("track_id", track.ID()).
		Str("kind", track.Kind().String()).
		Logger()

	relayCtx, cancel := context.WithCancel(ctx)
	relay := NewRelay(track, cancel)

	m.mu.Lock()
	pub, ok := m.publishers[sid]
	if !ok {
		pub = &publisher{relays: make(map[string]*Relay)}
		m.publishers[sid] = pub
	}
	pub.media = media
	if old, ok := pub.relays[track.ID()]; ok {
		logger.Info().Msg("replacing existing relay for track")
		old.markAllDelete()
		if old.cancel != nil {
			old.cancel()
		}
	}
	pub.relays[track.ID()] = relay
	m.mu.Unlock()

	logger.Info().Msg("starting relay loop")

	go relay.loop(relayCtx, &logger)
	return relay
}

func (m *RelayManager) relaysOf(sid core.SessionID) (core.MediaConnection, []*Relay) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pub, ok := m.publishers[sid]
	if !ok {
		return nil, nil
	}
	out := make([]*Relay, 0, len(pub.relays))
	for _, r := range pub.relays {
		out = append(out, r)
	}
	return pub.media, out
}

// Subscribe attaches dst to every relay of srcSID it does not receive yet.
// streamID labels the forwarded tracks so the subscriber can attribute them
// to the publisher. It returns how many tracks were added; a positive count
// means dst must renegotiate.
func (m *RelayManager) Subscribe(srcSID, dstSID core.SessionID, dst core.MediaConnection, streamID string) (int, error) {
	pubMedia, relays := m.relaysOf(srcSID)
	added := 0
	for _, relay := range relays {
		ok, err := m.subscribeRelay(relay, pubMedia, dstSID, dst, streamID)
		if err != nil {
			return added, err
		}
		if ok {
			added++
		}
	}
	return added, nil
}

// SubscribeTrack attaches dst to a single relay, used when a new track appears.
func (m *RelayManager) SubscribeTrack(srcSID core.SessionID, relay *Relay, dstSID core.SessionID, dst core.MediaConnection, streamID string) (bool, error) {
	pubMedia, _ := m.relaysOf(srcSID)
	return m.subscribeRelay(relay, pubMedia, dstSID, dst, streamID)
}

func (m *RelayManager) subscribeRelay(relay *Relay, pub core.MediaConnection, dstSID core.SessionID, dst core.MediaConnection, streamID string) (bool, error) {
	if relay.hasSubscriber(dstSID) {
		return false, nil
	}
	local, err := webrtc.NewTrackLocalStaticRTP(relay.Src.Codec().RTPCodecCapability, relay.Src.ID(), streamID)
	if err != nil {
		return false, fmt.Errorf("new local track: %w", err)
	}
	sender, err := dst.AddLocalTrack(local)
	if err != nil {
		return false, fmt.Errorf("add local track: %w", err)
	}
	if !relay.AddOutTrack(dstSID, NewOutTrack(local, sender)) {
		_ = dst.RemoveLocalTrack(sender)
		return false, nil
	}
	// Drain RTCP so interceptors keep running.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	if relay.Kind == domain.TrackVideo && pub != nil {
		if err := pub.RequestKeyframe(uint32(relay.Src.SSRC())); err != nil {
			log.Debug().Err(err).Str("module", "relay").Msg("keyframe request failed")
		}
	}
	return true, nil
}

// SetMuted pauses or resumes forwarding of every srcSID track of kind.
func (m *RelayManager) SetMuted(srcSID core.SessionID, kind domain.TrackKind, muted bool) {
	_, relays := m.relaysOf(srcSID)
	for _, r := range relays {
		if r.Kind == kind {
			r.setMuted(muted)
		}
	}
}

// Unsubscribe detaches dst from every relay of srcSID.
func (m *RelayManager) Unsubscribe(srcSID, dstSID core.SessionID) []Detached {
	_, relays := m.relaysOf(srcSID)
	var out []Detached
	for _, r := range relays {
		if ot := r.removeSubscriber(dstSID); ot != nil {
			out = append(out, Detached{Subscriber: dstSID, Sender: ot.Sender})
		}
	}
	return out
}

// StopRelay stops every relay of srcSID and returns the detached subscribers.
func (m *RelayManager) StopRelay(srcSID core.SessionID) []Detached {
	m.mu.Lock()
	pub, ok := m.publishers[srcSID]
	if ok {
		delete(m.publishers, srcSID)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}
	var out []Detached
	for _, r := range pub.relays {
		for dst, ot := range r.markAllDelete() {
			out = append(out, Detached{Subscriber: dst, Sender: ot.Sender})
		}
		if r.cancel != nil {
			r.cancel()
		}
	}
	return out
}

// HasRelay reports whether sid publishes at least one relayed track.
func (m *RelayManager) HasRelay(sid core.SessionID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pub, ok := m.publishers[sid]
	return ok && len(pub.relays) > 0
}
