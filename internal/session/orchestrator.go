// Package session owns the client-side lifecycle of one room visit: the
// phase machine, the participant roster, agent tracking, media toggles and
// the message log.
//
// All transport events go through a single FIFO drained by one goroutine, so
// state is mutated in the order the transport produced it. Every connection
// attempt gets its own session id; events and connect results tagged with an
// older id are dropped.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/VoiceAgent/internal/domain"
	"github.com/dkeye/VoiceAgent/internal/errs"
	"github.com/dkeye/VoiceAgent/internal/rtclient"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultConnectTimeout   = 10 * time.Second
	DefaultMessageRetention = 50
	DefaultAgentPrefix      = "agent-"

	noticeBuffer = 16
)

type Config struct {
	ConnectTimeout time.Duration
	// MessageRetention caps the message log; older entries are dropped first.
	MessageRetention int
	// AgentPrefix marks agents by identity when they do not announce
	// KindAgent. Empty disables prefix detection.
	AgentPrefix string
	Now         func() time.Time
}

// Orchestrator is safe for concurrent use. Create it with New and release it
// with Close.
type Orchestrator struct {
	factory TransportFactory
	cfg     Config
	log     zerolog.Logger

	mu        sync.Mutex
	st        sessionState
	transport Transport
	cancel    context.CancelFunc
	closed    bool

	subMu   sync.Mutex
	subs    map[int]*subscriber
	nextSub int

	// pubMu keeps snapshot delivery ordered.
	pubMu sync.Mutex

	queue *queue
	done  chan struct{}
	wg    sync.WaitGroup
}

func New(factory TransportFactory, cfg Config) *Orchestrator {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.MessageRetention <= 0 {
		cfg.MessageRetention = DefaultMessageRetention
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	o := &Orchestrator{
		factory: factory,
		cfg:     cfg,
		log:     log.With().Str("module", "session").Logger(),
		st:      newSessionState(),
		subs:    make(map[int]*subscriber),
		queue:   newQueue(),
		done:    make(chan struct{}),
	}
	o.wg.Add(1)
	go o.run()
	return o
}

// Snapshot returns a copy of the current state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.st.snapshot()
}

func (o *Orchestrator) Phase() domain.Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.st.phase
}

// Connect starts a connection attempt and returns without waiting for it.
// Calling it while Connecting, Connected or Disconnecting is a no-op that
// reports the current phase.
//
// The attempt outlives ctx: cancelling ctx after Connect returns does not
// abort it. A deadline on ctx still applies when it is earlier than
// ConnectTimeout.
func (o *Orchestrator) Connect(ctx context.Context, grant, url string, room domain.RoomName) (domain.Phase, error) {
	o.mu.Lock()
	if o.closed {
		p := o.st.phase
		o.mu.Unlock()
		return p, errs.E("connect", errs.ErrClosed, nil)
	}
	switch o.st.phase {
	case domain.PhaseConnecting, domain.PhaseConnected, domain.PhaseDisconnecting:
		p := o.st.phase
		o.mu.Unlock()
		o.log.Debug().Stringer("phase", p).Msg("connect ignored")
		return p, nil
	}

	sid := uuid.NewString()
	o.st = newSessionState()
	o.st.id = sid
	o.st.room = room
	o.st.phase = domain.PhaseConnecting

	t := o.factory(func(ev rtclient.Event) {
		o.queue.push(item{session: sid, kind: itemEvent, event: ev})
	})
	timeout := o.cfg.ConnectTimeout
	if dl, ok := ctx.Deadline(); ok && time.Until(dl) < timeout {
		timeout = time.Until(dl)
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	o.transport = t
	o.cancel = cancel
	o.mu.Unlock()

	o.log.Info().Str("session", sid).Str("room", string(room)).Msg("connecting")
	o.publish()

	go func() {
		defer cancel()
		err := t.Connect(cctx, grant, url)
		if err != nil && errors.Is(cctx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
			err = errs.E("connect", errs.ErrConnection, context.DeadlineExceeded)
		}
		o.queue.push(item{session: sid, kind: itemConnectResult, err: err})
	}()
	return domain.PhaseConnecting, nil
}

// Disconnect tears down the current session from any phase and returns to
// Idle with all session state cleared. Calling it while Idle is a no-op.
func (o *Orchestrator) Disconnect() {
	o.mu.Lock()
	if o.st.phase == domain.PhaseIdle || o.st.phase == domain.PhaseDisconnecting {
		o.mu.Unlock()
		return
	}
	t, cancel, sid := o.transport, o.cancel, o.st.id
	o.transport, o.cancel = nil, nil
	o.st.phase = domain.PhaseDisconnecting
	// Anything the transport still delivers belongs to a dead session.
	o.st.id = ""
	o.mu.Unlock()
	o.publish()

	if cancel != nil {
		cancel()
	}
	if t != nil {
		t.Disconnect()
	}

	o.mu.Lock()
	o.st = newSessionState()
	o.mu.Unlock()
	o.log.Info().Str("session", sid).Msg("disconnected")
	o.publish()
}

// Close disconnects and stops event processing. Subscriptions are closed.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.mu.Unlock()

	o.Disconnect()
	close(o.done)
	o.wg.Wait()

	o.subMu.Lock()
	for id, s := range o.subs {
		s.close()
		delete(o.subs, id)
	}
	o.subMu.Unlock()
}

// connected returns the live transport and session id, or ErrState.
func (o *Orchestrator) connected(op string) (Transport, string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.st.phase != domain.PhaseConnected || o.transport == nil {
		return nil, "", errs.E(op, errs.ErrState, nil)
	}
	return o.transport, o.st.id, nil
}

func (o *Orchestrator) SetMicrophone(enabled bool) error {
	return o.setMedia("set microphone", domain.TrackAudio, enabled)
}

func (o *Orchestrator) SetCamera(enabled bool) error {
	return o.setMedia("set camera", domain.TrackVideo, enabled)
}

func (o *Orchestrator) ToggleMicrophone() error {
	return o.SetMicrophone(!o.Snapshot().Media.AudioEnabled)
}

func (o *Orchestrator) ToggleCamera() error {
	return o.SetCamera(!o.Snapshot().Media.VideoEnabled)
}

func (o *Orchestrator) setMedia(op string, kind domain.TrackKind, enabled bool) error {
	t, sid, err := o.connected(op)
	if err != nil {
		return err
	}
	if kind == domain.TrackAudio {
		err = t.SetMicrophone(enabled)
	} else {
		err = t.SetCamera(enabled)
	}
	if err != nil {
		o.log.Warn().Err(err).Str("track", string(kind)).Bool("enabled", enabled).Msg("media toggle failed")
		o.notify(Notice{Kind: NoticeMediaFailed, Message: op + " failed", Err: err})
		return err
	}

	o.mu.Lock()
	if o.st.id == sid {
		if kind == domain.TrackAudio {
			o.st.media.AudioEnabled = enabled
		} else {
			o.st.media.VideoEnabled = enabled
		}
	}
	o.mu.Unlock()
	o.publish()
	return nil
}

// SendData sends body to one participant, or to the whole room when to is
// empty, and records it in the message log as a local message.
func (o *Orchestrator) SendData(body string, to domain.Identity) error {
	t, sid, err := o.connected("send data")
	if err != nil {
		return err
	}
	if err := t.SendData([]byte(body), to); err != nil {
		o.notify(Notice{Kind: NoticeWarning, Message: "message not sent", Err: err})
		return err
	}
	o.mu.Lock()
	if o.st.id == sid {
		o.st.appendMessage(domain.Message{
			From:      o.st.localIdentity,
			Body:      body,
			Timestamp: o.cfg.Now(),
			Local:     true,
		}, o.cfg.MessageRetention)
	}
	o.mu.Unlock()
	o.publish()
	return nil
}

func (o *Orchestrator) ClearMessages() error {
	_, sid, err := o.connected("clear messages")
	if err != nil {
		return err
	}
	o.mu.Lock()
	if o.st.id == sid {
		o.st.messages = nil
	}
	o.mu.Unlock()
	o.publish()
	return nil
}

func (o *Orchestrator) isAgent(id domain.Identity, kind domain.ParticipantKind) bool {
	if kind == domain.KindAgent {
		return true
	}
	return o.cfg.AgentPrefix != "" && strings.HasPrefix(string(id), o.cfg.AgentPrefix)
}
