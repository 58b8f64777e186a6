package session

import (
	"errors"

	"github.com/dkeye/VoiceAgent/internal/domain"
	"github.com/dkeye/VoiceAgent/internal/errs"
	"github.com/dkeye/VoiceAgent/internal/rtclient"
)

func (o *Orchestrator) run() {
	defer o.wg.Done()
	for {
		select {
		case <-o.done:
			return
		case <-o.queue.ready:
			for _, it := range o.queue.drain() {
				o.handle(it)
			}
		}
	}
}

func (o *Orchestrator) handle(it item) {
	switch it.kind {
	case itemConnectResult:
		o.onConnectResult(it.session, it.err)
	case itemEvent:
		o.onEvent(it.session, it.event)
	}
}

func (o *Orchestrator) onConnectResult(sid string, err error) {
	o.mu.Lock()
	if sid != o.st.id || o.st.phase != domain.PhaseConnecting {
		o.mu.Unlock()
		o.log.Debug().Str("session", sid).Err(err).Msg("stale connect result dropped")
		return
	}
	t := o.transport
	notice := Notice{Kind: NoticeConnectionFailed, Message: "could not connect", Err: err}
	if err == nil && o.st.closedErr != nil {
		// The transport joined and dropped before its result got here.
		err = o.st.closedErr
		notice = Notice{Kind: NoticeConnectionLost, Message: "connection lost", Err: err}
	}
	if err != nil {
		o.st.phase = domain.PhaseFailed
		o.st.lastError = err
		o.transport, o.cancel = nil, nil
		o.mu.Unlock()

		o.log.Warn().Str("session", sid).Err(err).Msg("connect failed")
		if t != nil {
			t.Disconnect()
		}
		notice.At = o.cfg.Now()
		o.notify(notice)
		o.publish()
		return
	}
	o.st.phase = domain.PhaseConnected
	o.st.localIdentity = t.Identity()
	o.mu.Unlock()

	o.log.Info().Str("session", sid).Str("identity", string(t.Identity())).Msg("connected")
	o.publish()

	// Microphone starts enabled; a failure leaves the session connected.
	if err := o.SetMicrophone(true); err != nil && !errors.Is(err, errs.ErrState) {
		o.log.Warn().Str("session", sid).Err(err).Msg("microphone not enabled")
	}
}

func (o *Orchestrator) onEvent(sid string, ev rtclient.Event) {
	o.mu.Lock()
	if sid != o.st.id || (o.st.phase != domain.PhaseConnecting && o.st.phase != domain.PhaseConnected) {
		o.mu.Unlock()
		o.log.Debug().Str("session", sid).Stringer("event", ev.Kind).Msg("stale event dropped")
		return
	}
	notice, changed := o.apply(ev)
	o.mu.Unlock()

	if notice != nil {
		o.notify(*notice)
	}
	if changed {
		o.publish()
	}
}

// apply mutates state for one event. Called with o.mu held.
func (o *Orchestrator) apply(ev rtclient.Event) (*Notice, bool) {
	st := &o.st
	switch ev.Kind {
	case rtclient.EventJoined:
		if _, dup := st.participants[ev.Identity]; dup {
			o.anomaly(ev, "duplicate join")
		}
		p := &Participant{
			Identity: ev.Identity,
			Kind:     ev.ParticipantKind,
			Metadata: ev.Metadata,
			Tracks:   make(map[domain.TrackKind]bool, len(ev.Tracks)),
			State:    ev.State,
		}
		for _, tr := range ev.Tracks {
			p.Tracks[tr.Kind] = tr.Active
		}
		if o.isAgent(ev.Identity, ev.ParticipantKind) {
			switch st.agentIdentity {
			case "":
				if p.State == "" {
					p.State = domain.AgentStateInitializing
				}
				st.agentIdentity = ev.Identity
				st.agentState = p.State
				o.log.Info().Str("agent", string(ev.Identity)).Msg("agent joined")
			case ev.Identity:
				st.agentState = p.State
			default:
				o.anomaly(ev, "second agent ignored")
			}
		}
		st.participants[ev.Identity] = p
		return nil, true

	case rtclient.EventLeft:
		if _, ok := st.participants[ev.Identity]; !ok {
			o.anomaly(ev, "unknown participant left")
			return nil, false
		}
		delete(st.participants, ev.Identity)
		if st.agentIdentity == ev.Identity {
			st.agentIdentity = ""
			st.agentState = domain.AgentStateInitializing
			o.log.Info().Str("agent", string(ev.Identity)).Msg("agent left")
		}
		return nil, true

	case rtclient.EventTrackAdded, rtclient.EventTrackRemoved:
		p, ok := st.participants[ev.Identity]
		if !ok {
			o.anomaly(ev, "track for unknown participant")
			return nil, false
		}
		p.Tracks[ev.Track] = ev.Kind == rtclient.EventTrackAdded
		return nil, true

	case rtclient.EventAttributesChanged:
		p, ok := st.participants[ev.Identity]
		if !ok {
			o.anomaly(ev, "attributes for unknown participant")
			return nil, false
		}
		p.State = ev.State
		if st.agentIdentity == ev.Identity {
			st.agentState = ev.State
		}
		return nil, true

	case rtclient.EventDataReceived:
		st.appendMessage(domain.Message{
			From:      ev.Identity,
			Body:      string(ev.Data),
			Timestamp: o.cfg.Now(),
		}, o.cfg.MessageRetention)
		return nil, true

	case rtclient.EventStateChanged:
		o.log.Debug().Str("session", st.id).Str("state", string(ev.Connection)).Msg("transport state")
		return nil, false

	case rtclient.EventRemoteError:
		o.log.Warn().Str("session", st.id).Err(ev.Err).Msg("room refused a request")
		return &Notice{Kind: NoticeWarning, Message: "room refused a request", Err: ev.Err, At: o.cfg.Now()}, false

	case rtclient.EventClosed:
		err := ev.Err
		if err == nil {
			err = errs.E("transport", errs.ErrClosed, nil)
		}
		if st.phase == domain.PhaseConnecting {
			// Settled by the pending connect result.
			st.closedErr = err
			return nil, false
		}
		st.phase = domain.PhaseFailed
		st.lastError = err
		o.transport, o.cancel = nil, nil
		o.log.Warn().Str("session", st.id).Err(err).Msg("connection lost")
		return &Notice{Kind: NoticeConnectionLost, Message: "connection lost", Err: err, At: o.cfg.Now()}, true

	default:
		o.anomaly(ev, "unknown event")
		return nil, false
	}
}

func (o *Orchestrator) anomaly(ev rtclient.Event, msg string) {
	o.log.Warn().
		Str("session", o.st.id).
		Stringer("event", ev.Kind).
		Str("participant", string(ev.Identity)).
		Err(errs.ErrProtocolAnomaly).
		Msg(msg)
}
