package signal

import (
	"context"
	"time"

	"github.com/dkeye/VoiceAgent/internal/app/orch"
	"github.com/dkeye/VoiceAgent/internal/proto"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) pongWait() time.Duration {
	if ctl.PingPeriod <= 0 {
		return 0
	}
	return ctl.PingPeriod * 10 / 9
}

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	var ping <-chan time.Time
	if ctl.PingPeriod > 0 {
		ticker := time.NewTicker(ctl.PingPeriod)
		defer ticker.Stop()
		ping = ticker.C
	}
	defer func() { _ = c.conn.Close() }()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			return
		case <-ping:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Debug().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		case data, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, st *connState) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(st.sid)).Msg("readPump closing")
		ctl.Orch.Leave(st.sid)
		ctl.Orch.Registry.Unbind(st.sid)
		st.conn.Close()
		st.cancel()
	}()

	if wait := ctl.pongWait(); wait > 0 {
		_ = st.conn.conn.SetReadDeadline(time.Now().Add(wait))
		st.conn.conn.SetPongHandler(func(string) error {
			return st.conn.conn.SetReadDeadline(time.Now().Add(wait))
		})
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", string(st.sid)).Msg("readPump ctx done")
			return
		default:
			_, data, err := st.conn.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Warn().Err(err).Str("module", "signal").Str("sid", string(st.sid)).Msg("readPump read error")
				}
				return
			}
			ctl.handleSignal(ctx, st, data)
		}
	}
}

func (ctl *SignalWSController) handleSignal(ctx context.Context, st *connState, data []byte) {
	typ, err := proto.Peek(data)
	if err != nil {
		ctl.anomaly(st, "bad_json")
		ctl.sendError(st, proto.CodeBadPayload, "malformed frame")
		return
	}

	if !st.joined() {
		switch typ {
		case proto.TypeJoin:
			ctl.handleJoin(st, data)
		case proto.TypePing:
			ctl.handlePing(st)
		default:
			ctl.anomaly(st, "not_joined")
			ctl.sendError(st, proto.CodeNotJoined, "join first")
		}
		return
	}

	switch typ {
	case proto.TypeJoin:
		ctl.anomaly(st, "duplicate_join")
		ctl.sendError(st, proto.CodeBadPayload, "already joined")
	case proto.TypeLeave:
		ctl.handleLeave(st)
	case proto.TypePing:
		ctl.handlePing(st)
	case proto.TypeTrack:
		ctl.handleTrack(st, data)
	case proto.TypeAttributes:
		ctl.handleAttributes(st, data)
	case proto.TypeData:
		ctl.handleData(st, data)
	case proto.TypeOffer:
		ctl.handleOffer(ctx, st, data)
	case proto.TypeAnswer:
		ctl.handleAnswer(st, data)
	case proto.TypeCandidate:
		ctl.handleCandidate(st, data)
	default:
		ctl.anomaly(st, "unknown_type")
		log.Warn().Str("module", "signal").Str("type", typ).Msg("unknown signal")
	}
}

func (ctl *SignalWSController) sendJSON(st *connState, v any) {
	if err := orch.Send(st.conn, v); err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("sid", string(st.sid)).Msg("sendJSON")
	}
}

func (ctl *SignalWSController) sendError(st *connState, code, msg string) {
	ctl.sendJSON(st, proto.NewError(code, msg))
}

func (ctl *SignalWSController) anomaly(st *connState, reason string) {
	log.Debug().Str("module", "signal").Str("sid", string(st.sid)).Str("reason", reason).Msg("protocol anomaly")
	if ctl.Metrics != nil {
		ctl.Metrics.Anomalies.WithLabelValues(reason).Inc()
	}
}
