package signal

import (
	"context"
	"encoding/json"

	"github.com/dkeye/VoiceAgent/internal/adapters/rtc"
	"github.com/dkeye/VoiceAgent/internal/proto"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) sendCandidate(st *connState, ci webrtc.ICECandidateInit) {
	resp := proto.Candidate{
		Type:      proto.TypeCandidate,
		Candidate: ci.Candidate,
	}
	if ci.SDPMid != nil {
		resp.SDPMid = *ci.SDPMid
	}
	if ci.SDPMLineIndex != nil {
		resp.SDPMLineIndex = *ci.SDPMLineIndex
	}
	ctl.sendJSON(st, resp)
}

func (ctl *SignalWSController) handleOffer(ctx context.Context, st *connState, data []byte) {
	var p proto.SDP
	if err := json.Unmarshal(data, &p); err != nil || p.SDP == "" {
		ctl.anomaly(st, "bad_offer")
		log.Error().Err(err).Str("module", "signal").Msg("bad offer payload")
		return
	}
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: p.SDP}

	// A renegotiation from the client reuses the existing connection.
	if mc := st.sess.Media(); mc != nil && !mc.IsClosed() {
		answer, err := mc.ApplyOfferAndCreateAnswer(offer)
		if err != nil {
			log.Error().Err(err).Str("module", "signal").Msg("webrtc apply re-offer")
			return
		}
		ctl.sendJSON(st, proto.SDP{Type: proto.TypeAnswer, SDP: answer.SDP})
		return
	}

	wc, err := rtc.NewWebRTCConnection(ctl.WebRTC, st.sid)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("webrtc new pc")
		return
	}

	wc.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		ctl.sendCandidate(st, ci)
	})

	ctl.Orch.BindMediaHandlers(wc, st.sid)
	st.sess.UpdateMedia(wc)

	if err = wc.Start(ctx); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("webrtc start")
		wc.Close()
		return
	}

	answer, err := wc.ApplyOfferAndCreateAnswer(offer)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("webrtc apply offer")
		wc.Close()
		return
	}

	ctl.sendJSON(st, proto.SDP{Type: proto.TypeAnswer, SDP: answer.SDP})
	ctl.Orch.OnMediaReady(st.sid)
}

func (ctl *SignalWSController) handleAnswer(st *connState, data []byte) {
	var p proto.SDP
	if err := json.Unmarshal(data, &p); err != nil || p.SDP == "" {
		ctl.anomaly(st, "bad_answer")
		return
	}
	if err := ctl.Orch.OnAnswer(st.sid, p.SDP); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(st.sid)).Msg("apply answer")
	}
}

func (ctl *SignalWSController) handleCandidate(st *connState, data []byte) {
	var p proto.Candidate
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.anomaly(st, "bad_candidate")
		log.Error().Err(err).Str("module", "signal").Msg("bad candidate payload")
		return
	}

	cand := webrtc.ICECandidateInit{
		Candidate: p.Candidate,
	}
	if p.SDPMid != "" {
		cand.SDPMid = &p.SDPMid
	}
	cand.SDPMLineIndex = &p.SDPMLineIndex

	mc := st.sess.Media()
	if mc == nil {
		log.Warn().Str("module", "signal").Str("sid", string(st.sid)).Msg("candidate: no media connection for")
		return
	}
	if err := mc.AddICECandidate(cand); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("add ice candidate")
	}
}
