package signal

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/VoiceAgent/internal/app"
	"github.com/dkeye/VoiceAgent/internal/app/orch"
	"github.com/dkeye/VoiceAgent/internal/app/sfu"
	"github.com/dkeye/VoiceAgent/internal/domain"
	"github.com/dkeye/VoiceAgent/internal/grant"
	"github.com/dkeye/VoiceAgent/internal/metrics"
	"github.com/dkeye/VoiceAgent/internal/proto"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

const (
	testIssuer = "APItest"
	testSecret = "0123456789abcdef0123456789abcdef"
)

type harness struct {
	url     string
	signer  *grant.Signer
	metrics *metrics.Metrics
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	signer, err := grant.NewSigner(testIssuer, testSecret)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	verifier, err := grant.NewVerifier(testIssuer, testSecret)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	m := metrics.New()
	ctl := &SignalWSController{
		Orch: &orch.Orchestrator{
			Registry: app.NewRegistry(),
			Rooms:    app.NewRoomManager(),
			Policy:   app.SimplePolicy{},
			Relays:   sfu.NewRelayManager(),
			Metrics:  m,
		},
		Verifier:    verifier,
		JoinLimiter: app.NewRateLimiter(3, time.Minute),
		Metrics:     m,
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := gin.New()
	r.GET("/rtc", func(c *gin.Context) { ctl.HandleSignal(ctx, c) })
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return &harness{url: "ws" + strings.TrimPrefix(srv.URL, "http") + "/rtc", signer: signer, metrics: m}
}

func (h *harness) token(t *testing.T, identity string, perms *grant.Permissions) string {
	t.Helper()
	return h.sign(t, grant.Request{Room: "demo-1", Identity: identity, Permissions: perms})
}

func (h *harness) agentToken(t *testing.T, identity string) string {
	t.Helper()
	return h.sign(t, grant.Request{Room: "demo-1", Identity: identity, Kind: domain.KindAgent})
}

func (h *harness) sign(t *testing.T, req grant.Request) string {
	t.Helper()
	g, err := h.signer.Sign(req)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return g.Token
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, v any) {
	t.Helper()
	if err := ws.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// next reads frames until one of type typ arrives.
func next(t *testing.T, ws *websocket.Conn, typ string, v any) {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", typ, err)
		}
		got, _ := proto.Peek(data)
		if got != typ {
			continue
		}
		if err := json.Unmarshal(data, v); err != nil {
			t.Fatalf("decode %s: %v", typ, err)
		}
		return
	}
}

func TestJoinAndPresence(t *testing.T) {
	h := newHarness(t)

	patient := dial(t, h.url)
	send(t, patient, proto.Join{Type: proto.TypeJoin, Token: h.token(t, "patient-42", nil)})
	var joined proto.Joined
	next(t, patient, proto.TypeJoined, &joined)
	if joined.Room != "demo-1" || joined.Identity != "patient-42" || len(joined.Participants) != 0 {
		t.Fatalf("unexpected joined: %+v", joined)
	}

	agent := dial(t, h.url)
	send(t, agent, proto.Join{Type: proto.TypeJoin, Token: h.agentToken(t, "agent-a"), Kind: domain.KindAgent})
	next(t, agent, proto.TypeJoined, &joined)
	if len(joined.Participants) != 1 || joined.Participants[0].Identity != "patient-42" {
		t.Fatalf("agent saw %+v", joined.Participants)
	}

	var pj proto.ParticipantJoined
	next(t, patient, proto.TypeParticipantJoined, &pj)
	if pj.Participant.Identity != "agent-a" || pj.Participant.Kind != domain.KindAgent {
		t.Fatalf("unexpected participant_joined: %+v", pj)
	}

	send(t, agent, proto.Attributes{Type: proto.TypeAttributes, State: "listening"})
	var ac proto.AttributesChanged
	next(t, patient, proto.TypeAttrsChanged, &ac)
	if ac.Identity != "agent-a" || ac.State != "listening" {
		t.Fatalf("unexpected attributes_changed: %+v", ac)
	}

	send(t, patient, proto.Data{Type: proto.TypeData, To: "agent-a", Payload: []byte("hello")})
	var d proto.Data
	next(t, agent, proto.TypeData, &d)
	if d.From != "patient-42" || string(d.Payload) != "hello" {
		t.Fatalf("unexpected data: %+v", d)
	}

	_ = agent.Close()
	var pl proto.ParticipantLeft
	next(t, patient, proto.TypeParticipantLeft, &pl)
	if pl.Identity != "agent-a" {
		t.Fatalf("unexpected participant_left: %+v", pl)
	}

	if got := testutil.ToFloat64(h.metrics.SignalJoins.WithLabelValues("ok")); got != 2 {
		t.Fatalf("joins ok = %v", got)
	}
}

func TestJoinRefused(t *testing.T) {
	h := newHarness(t)

	other, _ := grant.NewSigner(testIssuer, "another-secret-another-secret-xx")
	forged, _ := other.Sign(grant.Request{Room: "demo-1", Identity: "patient-42"})
	noJoin := grant.Permissions{Subscribe: true}

	cases := []struct {
		name  string
		token string
		code  string
	}{
		{"bad signature", forged.Token, proto.CodeUnauthorized},
		{"garbage", "a.b.c", proto.CodeUnauthorized},
		{"no join permission", h.token(t, "observer", &noJoin), proto.CodeForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ws := dial(t, h.url)
			send(t, ws, proto.Join{Type: proto.TypeJoin, Token: tc.token})
			var e proto.Error
			next(t, ws, proto.TypeError, &e)
			if e.Code != tc.code {
				t.Fatalf("code = %q, want %q", e.Code, tc.code)
			}
			_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
			if _, _, err := ws.ReadMessage(); err == nil {
				t.Fatalf("connection left open after refusal")
			}
		})
	}
}

func TestKindComesFromGrant(t *testing.T) {
	h := newHarness(t)

	patient := dial(t, h.url)
	send(t, patient, proto.Join{Type: proto.TypeJoin, Token: h.token(t, "patient-42", nil)})
	var joined proto.Joined
	next(t, patient, proto.TypeJoined, &joined)

	// A normal grant announcing itself as an agent stays normal.
	impostor := dial(t, h.url)
	send(t, impostor, proto.Join{Type: proto.TypeJoin, Token: h.token(t, "agent-x", nil), Kind: domain.KindAgent})
	next(t, impostor, proto.TypeJoined, &joined)

	var pj proto.ParticipantJoined
	next(t, patient, proto.TypeParticipantJoined, &pj)
	if pj.Participant.Identity != "agent-x" || pj.Participant.Kind != domain.KindNormal {
		t.Fatalf("unexpected participant_joined: %+v", pj)
	}
	if got := testutil.ToFloat64(h.metrics.Anomalies.WithLabelValues("kind_mismatch")); got != 1 {
		t.Fatalf("kind mismatches = %v", got)
	}

	// An agent grant needs no announcement.
	agent := dial(t, h.url)
	send(t, agent, proto.Join{Type: proto.TypeJoin, Token: h.agentToken(t, "helper")})
	next(t, agent, proto.TypeJoined, &joined)
	next(t, patient, proto.TypeParticipantJoined, &pj)
	if pj.Participant.Identity != "helper" || pj.Participant.Kind != domain.KindAgent {
		t.Fatalf("unexpected participant_joined: %+v", pj)
	}
}

func TestFramesBeforeJoin(t *testing.T) {
	h := newHarness(t)
	ws := dial(t, h.url)

	send(t, ws, proto.Envelope{Type: proto.TypePing})
	var pong proto.Envelope
	next(t, ws, proto.TypePong, &pong)

	send(t, ws, proto.Data{Type: proto.TypeData, Payload: []byte("x")})
	var e proto.Error
	next(t, ws, proto.TypeError, &e)
	if e.Code != proto.CodeNotJoined {
		t.Fatalf("code = %q", e.Code)
	}
	if got := testutil.ToFloat64(h.metrics.Anomalies.WithLabelValues("not_joined")); got != 1 {
		t.Fatalf("anomalies = %v", got)
	}
}

func TestPublishRequiresPermission(t *testing.T) {
	h := newHarness(t)
	listenOnly := grant.Permissions{Join: true, Subscribe: true}
	ws := dial(t, h.url)
	send(t, ws, proto.Join{Type: proto.TypeJoin, Token: h.token(t, "observer", &listenOnly)})
	var joined proto.Joined
	next(t, ws, proto.TypeJoined, &joined)

	send(t, ws, proto.Track{Type: proto.TypeTrack, Kind: domain.TrackAudio, Active: true})
	var e proto.Error
	next(t, ws, proto.TypeError, &e)
	if e.Code != proto.CodeForbidden {
		t.Fatalf("track code = %q", e.Code)
	}

	send(t, ws, proto.Data{Type: proto.TypeData, Payload: []byte("x")})
	next(t, ws, proto.TypeError, &e)
	if e.Code != proto.CodeForbidden {
		t.Fatalf("data code = %q", e.Code)
	}
}
