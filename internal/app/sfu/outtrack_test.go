package sfu

import (
	"testing"

	"github.com/dkeye/VoiceAgent/internal/core"
	"github.com/dkeye/VoiceAgent/internal/domain"
	"github.com/pion/webrtc/v4"
)

func newLocal(t *testing.T) *webrtc.TrackLocalStaticRTP {
	t.Helper()
	tr, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "patient-42")
	if err != nil {
		t.Fatalf("NewTrackLocalStaticRTP: %v", err)
	}
	return tr
}

func TestOutTrackStateTransitions(t *testing.T) {
	ot := NewOutTrack(newLocal(t), nil)
	if ot.GetState() != TrackStateOk {
		t.Fatalf("initial state = %v", ot.GetState())
	}
	ot.MarkMuted()
	if ot.GetState() != TrackStateMuted {
		t.Fatalf("state after mute = %v", ot.GetState())
	}
	ot.MarkOk()
	if ot.GetState() != TrackStateOk {
		t.Fatalf("state after unmute = %v", ot.GetState())
	}
	ot.MarkDelete()
	ot.MarkOk()
	ot.MarkMuted()
	if ot.GetState() != TrackStateDelete {
		t.Fatalf("deleted track must stay deleted, got %v", ot.GetState())
	}
}

func TestRelaySubscriberBookkeeping(t *testing.T) {
	r := &Relay{Kind: domain.TrackAudio, outTracks: make(map[core.SessionID]*OutTrack)}

	first := NewOutTrack(newLocal(t), nil)
	if !r.AddOutTrack("s-b", first) {
		t.Fatalf("first subscription rejected")
	}
	if r.AddOutTrack("s-b", NewOutTrack(newLocal(t), nil)) {
		t.Fatalf("duplicate subscription accepted")
	}

	r.setMuted(true)
	late := NewOutTrack(newLocal(t), nil)
	r.AddOutTrack("s-c", late)
	if first.GetState() != TrackStateMuted || late.GetState() != TrackStateMuted {
		t.Fatalf("mute not applied: %v %v", first.GetState(), late.GetState())
	}
	r.setMuted(false)
	if late.GetState() != TrackStateOk {
		t.Fatalf("unmute not applied: %v", late.GetState())
	}

	if ot := r.removeSubscriber("s-b"); ot != first || ot.GetState() != TrackStateDelete {
		t.Fatalf("removeSubscriber returned %v", ot)
	}
	if r.hasSubscriber("s-b") {
		t.Fatalf("s-b still subscribed")
	}

	detached := r.markAllDelete()
	if len(detached) != 1 || detached["s-c"] != late {
		t.Fatalf("markAllDelete = %v", detached)
	}
	r.cleanupDeleted([]core.SessionID{"s-c"})
	if len(r.outTracks) != 0 {
		t.Fatalf("cleanup left %d tracks", len(r.outTracks))
	}
}
