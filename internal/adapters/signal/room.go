package signal

import (
	"encoding/json"
	"errors"
	"strconv"

	"github.com/dkeye/VoiceAgent/internal/core"
	"github.com/dkeye/VoiceAgent/internal/domain"
	"github.com/dkeye/VoiceAgent/internal/grant"
	"github.com/dkeye/VoiceAgent/internal/proto"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) joinResult(result string) {
	if ctl.Metrics != nil {
		ctl.Metrics.SignalJoins.WithLabelValues(result).Inc()
	}
}

// refuse reports a failed join and closes the connection.
func (ctl *SignalWSController) refuse(st *connState, code, msg string) {
	ctl.joinResult(code)
	ctl.sendError(st, code, msg)
	st.conn.Close()
}

func (ctl *SignalWSController) handleJoin(st *connState, data []byte) {
	var p proto.Join
	if err := json.Unmarshal(data, &p); err != nil || p.Token == "" {
		ctl.refuse(st, proto.CodeBadPayload, "join requires a token")
		return
	}

	if ctl.Verifier == nil {
		ctl.refuse(st, proto.CodeUnauthorized, "grant verification not configured")
		return
	}
	claims, err := ctl.Verifier.Verify(p.Token)
	if err != nil {
		log.Info().Err(err).Str("module", "signal").Str("sid", string(st.sid)).Msg("join refused")
		msg := "invalid grant"
		if errors.Is(err, grant.ErrExpired) {
			msg = "grant expired"
		}
		ctl.refuse(st, proto.CodeUnauthorized, msg)
		return
	}
	if !claims.Permissions.Join {
		ctl.refuse(st, proto.CodeForbidden, "grant does not allow joining")
		return
	}
	if ok, retry := ctl.JoinLimiter.Allow(claims.Identity); !ok {
		ctl.refuse(st, proto.CodeRateLimited, "too many joins, retry in "+strconv.Itoa(int(retry.Seconds())+1)+"s")
		return
	}

	// The grant decides the kind; a join may only echo it.
	if p.Kind != "" && domain.ParseParticipantKind(string(p.Kind)) != claims.Kind {
		ctl.anomaly(st, "kind_mismatch")
	}
	participant := domain.Participant{
		Identity: domain.Identity(claims.Identity),
		Kind:     claims.Kind,
		Metadata: claims.Metadata,
	}
	sess := core.NewMemberSession(domain.NewMember(participant), claims).UpdateSignal(st.conn)
	roomName := domain.RoomName(claims.Room)
	ctl.Orch.Registry.BindSession(st.sid, roomName, sess, st.cancel)

	others, err := ctl.Orch.Join(st.sid)
	if err != nil {
		ctl.refuse(st, proto.CodeUnavailable, "room unavailable")
		return
	}
	st.sess = sess
	st.claims = claims
	ctl.joinResult("ok")

	log.Info().
		Str("module", "signal").
		Str("sid", string(st.sid)).
		Str("room", claims.Room).
		Str("identity", claims.Identity).
		Str("kind", string(participant.Kind)).
		Str("grant_id", claims.ID).
		Msg("join")

	ctl.sendJSON(st, proto.Joined{
		Type:         proto.TypeJoined,
		Room:         roomName,
		Identity:     participant.Identity,
		Participants: others,
	})
}

// handleLeave leaves the room but keeps the socket open; the client may join again.
func (ctl *SignalWSController) handleLeave(st *connState) {
	log.Info().Str("module", "signal").Str("sid", string(st.sid)).Msg("leave")
	ctl.Orch.Leave(st.sid)
	ctl.Orch.Registry.Unbind(st.sid)
	st.sess = nil
	st.claims = grant.Claims{}
}
