package signal

import (
	"encoding/json"
	"errors"

	"github.com/dkeye/VoiceAgent/internal/core"
	"github.com/dkeye/VoiceAgent/internal/proto"
	"github.com/rs/zerolog/log"
)

const maxStateLen = 64

func (ctl *SignalWSController) handlePing(st *connState) {
	ctl.sendJSON(st, proto.Envelope{Type: proto.TypePong})
}

func (ctl *SignalWSController) handleTrack(st *connState, data []byte) {
	var p proto.Track
	if err := json.Unmarshal(data, &p); err != nil || !p.Kind.Valid() {
		ctl.anomaly(st, "bad_track")
		ctl.sendError(st, proto.CodeBadPayload, "bad track payload")
		return
	}
	if p.Active && !st.claims.Permissions.Publish {
		ctl.sendError(st, proto.CodeForbidden, "grant does not allow publishing")
		return
	}
	if err := ctl.Orch.SetTrack(st.sid, p.Kind, p.Active); err != nil {
		ctl.sendError(st, proto.CodeNotJoined, err.Error())
	}
}

func (ctl *SignalWSController) handleAttributes(st *connState, data []byte) {
	var p proto.Attributes
	if err := json.Unmarshal(data, &p); err != nil || len(p.State) > maxStateLen {
		ctl.anomaly(st, "bad_attributes")
		ctl.sendError(st, proto.CodeBadPayload, "bad attributes payload")
		return
	}
	if err := ctl.Orch.SetAttributes(st.sid, p.State); err != nil {
		ctl.sendError(st, proto.CodeNotJoined, err.Error())
	}
}

func (ctl *SignalWSController) handleData(st *connState, data []byte) {
	var p proto.Data
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.anomaly(st, "bad_data")
		ctl.sendError(st, proto.CodeBadPayload, "bad data payload")
		return
	}
	if !st.claims.Permissions.PublishData {
		ctl.sendError(st, proto.CodeForbidden, "grant does not allow data")
		return
	}
	err := ctl.Orch.SendData(st.sid, p.To, p.Payload)
	switch {
	case err == nil:
	case errors.Is(err, core.ErrUnknownMember):
		ctl.sendError(st, proto.CodeUnavailable, "unknown destination "+string(p.To))
	default:
		log.Debug().Err(err).Str("module", "signal").Str("sid", string(st.sid)).Msg("data not delivered")
	}
}
