// Package rtclient is the client side of a room connection: websocket
// signalling plus one pion PeerConnection.
//
// A Session is single-use. Connect joins the room the grant names and returns
// once the server acknowledged the join; media negotiation continues in the
// background. After Disconnect, or after the connection drops, the Session is
// closed for good and every operation returns errs.ErrClosed.
package rtclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/VoiceAgent/internal/domain"
	"github.com/dkeye/VoiceAgent/internal/errs"
	"github.com/dkeye/VoiceAgent/internal/proto"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
)

const (
	writeWait               = 5 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
)

var (
	errNotConnected      = errors.New("not connected")
	errAlreadyConnecting = errors.New("connect already called")
)

// ErrMuted is returned by the sample writers while the track is switched off.
var ErrMuted = errors.New("track muted")

type Options struct {
	// Kind is announced on join; KindAgent marks an agent participant.
	Kind             domain.ParticipantKind
	ICEServers       []string
	HandshakeTimeout time.Duration
	// Dialer overrides the websocket dialer.
	Dialer *websocket.Dialer
	// OnRemoteTrack receives subscribed media. Without it remote RTP is read
	// and discarded.
	OnRemoteTrack func(publisher domain.Identity, track *webrtc.TrackRemote)
}

type state int

const (
	stateIdle state = iota
	stateConnecting
	stateConnected
	stateClosed
)

type Session struct {
	opts    Options
	handler func(Event)

	mu                sync.Mutex
	state             state
	ws                *websocket.Conn
	pc                *webrtc.PeerConnection
	audio             *webrtc.TrackLocalStaticSample
	video             *webrtc.TrackLocalStaticSample
	flags             domain.MediaFlags
	identity          domain.Identity
	cancel            context.CancelFunc
	remoteSet         bool
	pendingCandidates []webrtc.ICECandidateInit

	wmu sync.Mutex

	emitMu sync.Mutex
	done   bool
}

// New returns an idle Session. handler receives every Event in order; it is
// called from the Session's goroutines, must not block and must not call
// Disconnect synchronously.
func New(opts Options, handler func(Event)) *Session {
	if opts.Kind == "" {
		opts.Kind = domain.KindNormal
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	return &Session{opts: opts, handler: handler}
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("transport url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("transport url %q: scheme must be ws or wss", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("transport url %q: missing host", raw)
	}
	return nil
}

func validateGrant(grant string) error {
	parts := strings.Split(grant, ".")
	if len(parts) != 3 {
		return errors.New("grant must have three dot-separated segments")
	}
	for _, p := range parts {
		if p == "" || strings.ContainsAny(p, " \t\r\n") {
			return errors.New("grant has an empty or malformed segment")
		}
	}
	return nil
}

// Connect dials url, joins with grant and prepares local media. ctx bounds
// the handshake; cancelling it aborts the attempt and closes the Session.
func (s *Session) Connect(ctx context.Context, grant, url string) error {
	const op = "connect"
	if err := validateURL(url); err != nil {
		return errs.E(op, errs.ErrConfiguration, err)
	}
	if err := validateGrant(grant); err != nil {
		return errs.E(op, errs.ErrConfiguration, err)
	}

	s.mu.Lock()
	switch s.state {
	case stateClosed:
		s.mu.Unlock()
		return errs.E(op, errs.ErrClosed, nil)
	case stateConnecting, stateConnected:
		s.mu.Unlock()
		return errs.E(op, errs.ErrState, errAlreadyConnecting)
	}
	s.state = stateConnecting
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()
	s.emit(Event{Kind: EventStateChanged, Connection: StateConnecting})

	// Disconnect cancels runCtx, which must also abort the handshake.
	hsCtx, hsCancel := context.WithCancel(ctx)
	defer hsCancel()
	stop := context.AfterFunc(runCtx, hsCancel)
	defer stop()

	joined, err := s.handshake(hsCtx, grant, url)
	if err != nil {
		if runCtx.Err() != nil {
			return errs.E(op, errs.ErrClosed, err)
		}
		s.shutdown(err, false)
		return err
	}

	if err := s.setupMedia(runCtx, joined.Identity); err != nil {
		if runCtx.Err() != nil {
			return errs.E(op, errs.ErrClosed, err)
		}
		err = errs.E("media", errs.ErrConnection, err)
		s.shutdown(err, true)
		return err
	}

	s.mu.Lock()
	if s.state == stateClosed {
		s.mu.Unlock()
		return errs.E(op, errs.ErrClosed, nil)
	}
	s.state = stateConnected
	ws := s.ws
	s.mu.Unlock()

	log.Info().
		Str("module", "rtclient").
		Str("room", string(joined.Room)).
		Str("identity", string(joined.Identity)).
		Int("participants", len(joined.Participants)).
		Msg("joined room")

	s.emit(Event{Kind: EventStateChanged, Connection: StateConnected})
	for _, p := range joined.Participants {
		s.emitParticipant(p)
	}

	go s.readLoop(runCtx, ws)
	go s.negotiate(runCtx)
	return nil
}

func (s *Session) handshake(ctx context.Context, grant, url string) (*proto.Joined, error) {
	dialer := s.opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: s.opts.HandshakeTimeout,
		}
	}
	ws, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (http %d)", err, resp.StatusCode)
		}
		return nil, errs.E("dial", errs.ErrConnection, err)
	}
	s.mu.Lock()
	s.ws = ws
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = ws.Close() })
	defer stop()

	if err := s.write(proto.Join{Type: proto.TypeJoin, Token: grant, Kind: s.opts.Kind}); err != nil {
		return nil, errs.E("join", errs.ErrConnection, err)
	}
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				err = context.Cause(ctx)
			}
			return nil, errs.E("join", errs.ErrConnection, err)
		}
		typ, err := proto.Peek(data)
		if err != nil {
			log.Debug().Err(err).Str("module", "rtclient").Msg("undecodable frame during join")
			continue
		}
		switch typ {
		case proto.TypeJoined:
			var j proto.Joined
			if err := decode(data, &j); err != nil {
				return nil, errs.E("join", errs.ErrConnection, err)
			}
			if !stop() {
				return nil, errs.E("join", errs.ErrConnection, context.Cause(ctx))
			}
			return &j, nil
		case proto.TypeError:
			var e proto.Error
			_ = decode(data, &e)
			return nil, errs.E("join", errs.ErrConnection, &RefusedError{Code: e.Code, Message: e.Error})
		default:
			log.Debug().Str("module", "rtclient").Str("type", typ).Msg("frame before join ack ignored")
		}
	}
}

// Disconnect leaves the room and closes the Session. It is idempotent and
// aborts a Connect in progress.
func (s *Session) Disconnect() {
	s.shutdown(nil, true)
}

func (s *Session) shutdown(reason error, sendLeave bool) {
	s.mu.Lock()
	if s.state == stateClosed {
		s.mu.Unlock()
		return
	}
	prev := s.state
	s.state = stateClosed
	ws, pc, cancel := s.ws, s.pc, s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if ws != nil {
		if sendLeave && prev == stateConnected {
			_ = s.write(proto.Envelope{Type: proto.TypeLeave})
		}
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		_ = ws.Close()
	}
	if pc != nil {
		if err := pc.Close(); err != nil {
			log.Debug().Err(err).Str("module", "rtclient").Msg("peer connection close")
		}
	}

	ev := log.Info()
	if reason != nil {
		ev = log.Warn().Err(reason)
	}
	ev.Str("module", "rtclient").Msg("session closed")

	if prev != stateIdle {
		s.emit(Event{Kind: EventStateChanged, Connection: StateDisconnected})
	}
	s.emit(Event{Kind: EventClosed, Err: reason})
}

func (s *Session) ready(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case stateConnected:
		return nil
	case stateClosed:
		return errs.E(op, errs.ErrClosed, nil)
	default:
		return errs.E(op, errs.ErrState, errNotConnected)
	}
}

func (s *Session) write(v any) error {
	s.mu.Lock()
	ws := s.ws
	s.mu.Unlock()
	if ws == nil {
		return errNotConnected
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if err := ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return ws.WriteJSON(v)
}

// SetMicrophone publishes or pauses the local audio track.
func (s *Session) SetMicrophone(enabled bool) error {
	return s.setTrack("microphone", domain.TrackAudio, enabled)
}

// SetCamera publishes or pauses the local video track.
func (s *Session) SetCamera(enabled bool) error {
	return s.setTrack("camera", domain.TrackVideo, enabled)
}

func (s *Session) setTrack(op string, kind domain.TrackKind, enabled bool) error {
	if err := s.ready(op); err != nil {
		return err
	}
	if err := s.write(proto.Track{Type: proto.TypeTrack, Kind: kind, Active: enabled}); err != nil {
		return errs.E(op, errs.ErrConnection, err)
	}
	s.mu.Lock()
	if kind == domain.TrackAudio {
		s.flags.AudioEnabled = enabled
	} else {
		s.flags.VideoEnabled = enabled
	}
	s.mu.Unlock()
	return nil
}

// SendData delivers payload to one participant, or to the whole room when
// to is empty. Delivery is reliable and ordered; failures are not retried.
func (s *Session) SendData(payload []byte, to domain.Identity) error {
	const op = "send data"
	if err := s.ready(op); err != nil {
		return err
	}
	if err := s.write(proto.Data{Type: proto.TypeData, To: to, Payload: payload}); err != nil {
		return errs.E(op, errs.ErrConnection, err)
	}
	return nil
}

// SetAttributes publishes the local participant's state attribute.
func (s *Session) SetAttributes(state string) error {
	const op = "set attributes"
	if err := s.ready(op); err != nil {
		return err
	}
	if err := s.write(proto.Attributes{Type: proto.TypeAttributes, State: state}); err != nil {
		return errs.E(op, errs.ErrConnection, err)
	}
	return nil
}

func (s *Session) Identity() domain.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

func (s *Session) Flags() domain.MediaFlags {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flags
}

// WriteAudioSample feeds the local audio track. While the microphone is off
// the sample is dropped and ErrMuted is returned.
func (s *Session) WriteAudioSample(sample media.Sample) error {
	return s.writeSample("write audio", domain.TrackAudio, sample)
}

// WriteVideoSample feeds the local video track. While the camera is off the
// sample is dropped and ErrMuted is returned.
func (s *Session) WriteVideoSample(sample media.Sample) error {
	return s.writeSample("write video", domain.TrackVideo, sample)
}

func (s *Session) writeSample(op string, kind domain.TrackKind, sample media.Sample) error {
	if err := s.ready(op); err != nil {
		return err
	}
	s.mu.Lock()
	track, on := s.audio, s.flags.AudioEnabled
	if kind == domain.TrackVideo {
		track, on = s.video, s.flags.VideoEnabled
	}
	s.mu.Unlock()
	if track == nil || !on {
		return errs.E(op, errs.ErrState, ErrMuted)
	}
	if err := track.WriteSample(sample); err != nil {
		return errs.E(op, errs.ErrConnection, err)
	}
	return nil
}

func (s *Session) emit(ev Event) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if s.done || s.handler == nil {
		return
	}
	if ev.Kind == EventClosed {
		s.done = true
	}
	s.handler(ev)
}

func (s *Session) emitParticipant(p proto.ParticipantInfo) {
	s.emit(Event{
		Kind:            EventJoined,
		Identity:        p.Identity,
		ParticipantKind: domain.ParseParticipantKind(string(p.Kind)),
		Metadata:        p.Metadata,
		Tracks:          p.Tracks,
		State:           p.State,
	})
}
