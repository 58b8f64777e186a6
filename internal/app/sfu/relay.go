package sfu

import (
	"context"
	"maps"
	"sync"

	"github.com/dkeye/VoiceAgent/internal/core"
	"github.com/dkeye/VoiceAgent/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// Relay fans one remote track out to every subscriber.
type Relay struct {
	Src  *webrtc.TrackRemote
	Kind domain.TrackKind

	mu        sync.RWMutex
	outTracks map[core.SessionID]*OutTrack
	muted     bool

	cancel context.CancelFunc
}

func NewRelay(src *webrtc.TrackRemote, cancel context.CancelFunc) *Relay {
	kind := domain.TrackAudio
	if src.Kind() == webrtc.RTPCodecTypeVideo {
		kind = domain.TrackVideo
	}
	return &Relay{
		Src:       src,
		Kind:      kind,
		outTracks: make(map[core.SessionID]*OutTrack),
		cancel:    cancel,
	}
}

// loop reads RTP packets from the source track and forwards them to all OutTracks.
func (r *Relay) loop(ctx context.Context, logger *zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("relay ctx done, marking all out tracks for delete")
			r.markAllDelete()
			return
		default:
		}
		pkt, _, err := r.Src.ReadRTP()
		if err != nil {
			logger.Info().Err(err).Msg("relay read RTP stopped")
			r.markAllDelete()
			return
		}
		r.forward(pkt, logger)
	}
}

func (r *Relay) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	r.mu.RLock()
	snapshot := make(map[core.SessionID]*OutTrack, len(r.outTracks))
	maps.Copy(snapshot, r.outTracks)
	r.mu.RUnlock()

	dirty := make([]core.SessionID, 0, len(snapshot))
	for dstSID, ot := range snapshot {
		switch ot.GetState() {
		case TrackStateDelete:
			dirty = append(dirty, dstSID)
		case TrackStateMuted:
		case TrackStateOk:
			if err := ot.Track.WriteRTP(pkt); err != nil {
				logger.Error().
					Err(err).
					Str("dst_sid", string(dstSID)).
					Msg("relay write RTP error, marking outtrack as delete")
				ot.MarkDelete()
				dirty = append(dirty, dstSID)
			}
		}
	}

	// Cleanup is done outside the RLock.
	if len(dirty) > 0 {
		r.cleanupDeleted(dirty)
	}
}

func (r *Relay) cleanupDeleted(dirty []core.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sid := range dirty {
		if ot, ok := r.outTracks[sid]; ok && ot.GetState() == TrackStateDelete {
			delete(r.outTracks, sid)
		}
	}
}

// markAllDelete detaches every subscriber and returns the detached out tracks.
func (r *Relay) markAllDelete() map[core.SessionID]*OutTrack {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[core.SessionID]*OutTrack, len(r.outTracks))
	for sid, ot := range r.outTracks {
		ot.MarkDelete()
		out[sid] = ot
	}
	return out
}

// AddOutTrack registers ot for dst unless dst is already subscribed.
func (r *Relay) AddOutTrack(dst core.SessionID, ot *OutTrack) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.outTracks[dst]; ok && cur.GetState() != TrackStateDelete {
		return false
	}
	if r.muted {
		ot.MarkMuted()
	}
	r.outTracks[dst] = ot
	return true
}

func (r *Relay) hasSubscriber(dst core.SessionID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ot, ok := r.outTracks[dst]
	return ok && ot.GetState() != TrackStateDelete
}

func (r *Relay) setMuted(muted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.muted = muted
	for _, ot := range r.outTracks {
		if muted {
			ot.MarkMuted()
		} else {
			ot.MarkOk()
		}
	}
}

func (r *Relay) removeSubscriber(dst core.SessionID) *OutTrack {
	r.mu.Lock()
	defer r.mu.Unlock()
	ot, ok := r.outTracks[dst]
	if !ok {
		return nil
	}
	ot.MarkDelete()
	delete(r.outTracks, dst)
	return ot
}
