package rtclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/VoiceAgent/internal/domain"
	"github.com/dkeye/VoiceAgent/internal/errs"
	"github.com/dkeye/VoiceAgent/internal/proto"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4/pkg/media"
)

const testGrant = "aaa.bbb.ccc"

// stubRoom is a scripted room server. reply answers the join frame; frames
// received afterwards are kept for expect.
type stubRoom struct {
	url    string
	conns  chan *websocket.Conn
	mu     sync.Mutex
	frames [][]byte
	notify chan struct{}
}

func newStubRoom(t *testing.T, reply func(join proto.Join) any) *stubRoom {
	t.Helper()
	st := &stubRoom{conns: make(chan *websocket.Conn, 1), notify: make(chan struct{}, 128)}
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		var join proto.Join
		if err := ws.ReadJSON(&join); err != nil {
			return
		}
		if v := reply(join); v != nil {
			if err := ws.WriteJSON(v); err != nil {
				return
			}
		}
		st.conns <- ws
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			st.mu.Lock()
			st.frames = append(st.frames, data)
			st.mu.Unlock()
			select {
			case st.notify <- struct{}{}:
			default:
			}
		}
	}))
	t.Cleanup(srv.Close)
	st.url = "ws" + strings.TrimPrefix(srv.URL, "http")
	return st
}

// take removes and returns the first received frame of type typ.
func (st *stubRoom) take(typ string) ([]byte, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for i, data := range st.frames {
		if got, _ := proto.Peek(data); got == typ {
			st.frames = append(st.frames[:i], st.frames[i+1:]...)
			return data, true
		}
	}
	return nil, false
}

// expect waits for a client frame of type typ.
func (st *stubRoom) expect(t *testing.T, typ string, v any) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		if data, ok := st.take(typ); ok {
			if v != nil {
				if err := json.Unmarshal(data, v); err != nil {
					t.Fatalf("decode %s: %v", typ, err)
				}
			}
			return
		}
		select {
		case <-st.notify:
		case <-deadline:
			t.Fatalf("timed out waiting for %s", typ)
		}
	}
}

type recorder struct {
	mu     sync.Mutex
	events []Event
	signal chan struct{}
}

func newRecorder() *recorder { return &recorder{signal: make(chan struct{}, 128)} }

func (r *recorder) handle(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	r.signal <- struct{}{}
}

// wait returns the first event of kind, waiting up to 3s.
func (r *recorder) wait(t *testing.T, kind EventKind) Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		r.mu.Lock()
		for _, ev := range r.events {
			if ev.Kind == kind {
				r.mu.Unlock()
				return ev
			}
		}
		r.mu.Unlock()
		select {
		case <-r.signal:
		case <-deadline:
			t.Fatalf("timed out waiting for %v", kind)
		}
	}
}

func joinedReply(j proto.Join) any {
	return proto.Joined{
		Type:     proto.TypeJoined,
		Room:     "demo-1",
		Identity: "patient-42",
		Participants: []proto.ParticipantInfo{
			{Identity: "agent-a", Kind: domain.KindAgent, State: "listening", Tracks: []domain.Track{{Kind: domain.TrackAudio, Active: true}}},
		},
	}
}

func TestConnectRejectsBadInput(t *testing.T) {
	s := New(Options{}, nil)
	cases := []struct{ grant, url string }{
		{testGrant, "http://localhost/rtc"},
		{testGrant, "ws://"},
		{testGrant, "::bad"},
		{"not-a-grant", "ws://localhost/rtc"},
		{"a..c", "ws://localhost/rtc"},
	}
	for _, tc := range cases {
		err := s.Connect(context.Background(), tc.grant, tc.url)
		if !errors.Is(err, errs.ErrConfiguration) {
			t.Fatalf("Connect(%q, %q) = %v, want configuration error", tc.grant, tc.url, err)
		}
	}
}

func TestConnectRefused(t *testing.T) {
	room := newStubRoom(t, func(proto.Join) any {
		return proto.NewError(proto.CodeUnauthorized, "invalid grant")
	})
	rec := newRecorder()
	s := New(Options{}, rec.handle)

	err := s.Connect(context.Background(), testGrant, room.url)
	if !errors.Is(err, errs.ErrConnection) {
		t.Fatalf("expected connection error, got %v", err)
	}
	var refused *RefusedError
	if !errors.As(err, &refused) || refused.Code != proto.CodeUnauthorized {
		t.Fatalf("expected unauthorized refusal, got %v", err)
	}
	if ev := rec.wait(t, EventClosed); !errors.Is(ev.Err, errs.ErrConnection) {
		t.Fatalf("closed reason = %v", ev.Err)
	}
	if err := s.Connect(context.Background(), testGrant, room.url); !errors.Is(err, errs.ErrClosed) {
		t.Fatalf("reuse after failure = %v, want ErrClosed", err)
	}
}

func TestConnectUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	err := New(Options{}, nil).Connect(context.Background(), testGrant, url)
	if !errors.Is(err, errs.ErrConnection) || !errs.Retryable(err) {
		t.Fatalf("expected retryable connection error, got %v", err)
	}
}

func TestConnectTimeout(t *testing.T) {
	room := newStubRoom(t, func(proto.Join) any { return nil })
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := New(Options{}, nil).Connect(ctx, testGrant, room.url)
	if !errors.Is(err, errs.ErrConnection) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline connection error, got %v", err)
	}
}

func TestDisconnectAbortsConnect(t *testing.T) {
	room := newStubRoom(t, func(proto.Join) any { return nil })
	rec := newRecorder()
	s := New(Options{}, rec.handle)

	errc := make(chan error, 1)
	go func() { errc <- s.Connect(context.Background(), testGrant, room.url) }()
	rec.wait(t, EventStateChanged)
	<-room.conns
	s.Disconnect()

	select {
	case err := <-errc:
		if !errors.Is(err, errs.ErrClosed) {
			t.Fatalf("Connect after Disconnect = %v, want ErrClosed", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("Connect did not return after Disconnect")
	}
	if ev := rec.wait(t, EventClosed); ev.Err != nil {
		t.Fatalf("closed reason = %v, want nil", ev.Err)
	}
}

func TestOperationsRequireConnection(t *testing.T) {
	s := New(Options{}, nil)
	if err := s.SetMicrophone(true); !errors.Is(err, errs.ErrState) {
		t.Fatalf("SetMicrophone idle = %v", err)
	}
	if err := s.WriteAudioSample(media.Sample{Data: []byte{0xf8}}); !errors.Is(err, errs.ErrState) || errors.Is(err, ErrMuted) {
		t.Fatalf("WriteAudioSample idle = %v", err)
	}
	if err := s.SendData([]byte("x"), ""); !errors.Is(err, errs.ErrState) {
		t.Fatalf("SendData idle = %v", err)
	}
	s.Disconnect()
	s.Disconnect()
	if err := s.SetCamera(true); !errors.Is(err, errs.ErrClosed) {
		t.Fatalf("SetCamera closed = %v", err)
	}
}

func TestConnectedSession(t *testing.T) {
	room := newStubRoom(t, joinedReply)
	rec := newRecorder()
	s := New(Options{Kind: domain.KindNormal}, rec.handle)

	if err := s.Connect(context.Background(), testGrant, room.url); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if s.Identity() != "patient-42" {
		t.Fatalf("identity = %q", s.Identity())
	}
	ev := rec.wait(t, EventJoined)
	if ev.Identity != "agent-a" || ev.ParticipantKind != domain.KindAgent || ev.State != "listening" || len(ev.Tracks) != 1 {
		t.Fatalf("unexpected joined event: %+v", ev)
	}

	ws := <-room.conns
	_ = ws.WriteJSON(proto.Data{Type: proto.TypeData, From: "agent-a", Payload: []byte("hi")})
	_ = ws.WriteJSON(proto.AttributesChanged{Type: proto.TypeAttrsChanged, Identity: "agent-a", State: "thinking"})
	_ = ws.WriteJSON(proto.TrackState{Type: proto.TypeTrackState, Identity: "agent-a", Kind: domain.TrackVideo, Active: true})
	_ = ws.WriteJSON(proto.ParticipantLeft{Type: proto.TypeParticipantLeft, Identity: "agent-a"})

	if ev := rec.wait(t, EventDataReceived); ev.Identity != "agent-a" || string(ev.Data) != "hi" {
		t.Fatalf("unexpected data event: %+v", ev)
	}
	if ev := rec.wait(t, EventAttributesChanged); ev.State != "thinking" {
		t.Fatalf("unexpected attributes event: %+v", ev)
	}
	if ev := rec.wait(t, EventTrackAdded); ev.Track != domain.TrackVideo {
		t.Fatalf("unexpected track event: %+v", ev)
	}
	rec.wait(t, EventLeft)

	silence := media.Sample{Data: []byte{0xf8, 0xff, 0xfe}, Duration: 20 * time.Millisecond}
	if err := s.WriteAudioSample(silence); !errors.Is(err, ErrMuted) || !errors.Is(err, errs.ErrState) {
		t.Fatalf("audio sample with mic off = %v", err)
	}
	if err := s.WriteVideoSample(media.Sample{Data: []byte{0}, Duration: time.Second / 30}); !errors.Is(err, ErrMuted) {
		t.Fatalf("video sample with camera off = %v", err)
	}
	if err := s.SetMicrophone(true); err != nil {
		t.Fatalf("SetMicrophone: %v", err)
	}
	if err := s.WriteAudioSample(silence); err != nil {
		t.Fatalf("audio sample with mic on = %v", err)
	}
	var tr proto.Track
	room.expect(t, proto.TypeTrack, &tr)
	if tr.Kind != domain.TrackAudio || !tr.Active || !s.Flags().AudioEnabled {
		t.Fatalf("unexpected track frame %+v flags %+v", tr, s.Flags())
	}

	if err := s.SendData([]byte("hello"), "agent-a"); err != nil {
		t.Fatalf("SendData: %v", err)
	}
	var d proto.Data
	room.expect(t, proto.TypeData, &d)
	if d.To != "agent-a" || string(d.Payload) != "hello" {
		t.Fatalf("unexpected data frame: %+v", d)
	}

	s.Disconnect()
	room.expect(t, proto.TypeLeave, nil)
	if ev := rec.wait(t, EventClosed); ev.Err != nil {
		t.Fatalf("closed reason = %v", ev.Err)
	}
	if err := s.SendData([]byte("late"), ""); !errors.Is(err, errs.ErrClosed) {
		t.Fatalf("SendData after Disconnect = %v", err)
	}
}

func TestServerDropIsReported(t *testing.T) {
	room := newStubRoom(t, joinedReply)
	rec := newRecorder()
	s := New(Options{}, rec.handle)
	if err := s.Connect(context.Background(), testGrant, room.url); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	ws := <-room.conns
	_ = ws.WriteJSON(proto.NewError(proto.CodeReplaced, "identity joined from another connection"))
	_ = ws.Close()

	ev := rec.wait(t, EventClosed)
	var refused *RefusedError
	if !errors.Is(ev.Err, errs.ErrConnection) || !errors.As(ev.Err, &refused) || refused.Code != proto.CodeReplaced {
		t.Fatalf("closed reason = %v", ev.Err)
	}
	rec.wait(t, EventRemoteError)
}
