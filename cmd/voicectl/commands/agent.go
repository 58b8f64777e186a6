package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dkeye/VoiceAgent/internal/domain"
	"github.com/dkeye/VoiceAgent/internal/rtclient"
	"github.com/dkeye/VoiceAgent/internal/tokenclient"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const (
	agentEventBuffer = 64
	frameDuration    = 20 * time.Millisecond
	speakFrames      = 10
)

// opusSilence is a single 20ms Opus silence frame.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// Agent states published through the participant state attribute.
const (
	agentListening = "listening"
	agentThinking  = "thinking"
	agentSpeaking  = "speaking"
)

func newAgentCmd(load configLoader) *cobra.Command {
	var think time.Duration
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Join a room as a stub agent that echoes messages",
		Long: `Join a room with kind=agent. The agent publishes its state
(listening, thinking, speaking) and answers every message it receives
with an echo, so clients can be exercised without a conversational backend.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			if cfg.Identity == "" {
				cfg.Identity = cfg.AgentPrefix + uuid.NewString()[:8]
			}
			if err := requireRoom(cfg); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			resp, err := tokenclient.New(cfg.TokenURL).Fetch(ctx, tokenclient.Request{
				RoomName: cfg.Room,
				Identity: cfg.Identity,
				Metadata: cfg.Metadata,
				Kind:     domain.KindAgent,
			})
			if err != nil {
				return err
			}
			a := &stubAgent{think: think, events: make(chan rtclient.Event, agentEventBuffer)}
			a.sess = rtclient.New(rtclient.Options{Kind: domain.KindAgent, ICEServers: cfg.ICEServers}, a.enqueue)

			cctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
			err = a.sess.Connect(cctx, resp.Grant, resp.TransportURL)
			cancel()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "agent %s joined %s\n", a.sess.Identity(), resp.RoomName)
			return a.run(ctx)
		},
	}
	cmd.Flags().DurationVar(&think, "think", 500*time.Millisecond, "time spent thinking before each reply")
	return cmd
}

type stubAgent struct {
	sess   *rtclient.Session
	think  time.Duration
	events chan rtclient.Event
}

func (a *stubAgent) enqueue(ev rtclient.Event) {
	select {
	case a.events <- ev:
	default:
		log.Warn().Str("module", "agent").Stringer("event", ev.Kind).Msg("event dropped, agent busy")
	}
}

func (a *stubAgent) setState(state string) {
	if err := a.sess.SetAttributes(state); err != nil {
		log.Warn().Str("module", "agent").Err(err).Str("state", state).Msg("state not published")
	}
}

func (a *stubAgent) run(ctx context.Context) error {
	defer a.sess.Disconnect()
	if err := a.sess.SetMicrophone(true); err != nil {
		log.Warn().Str("module", "agent").Err(err).Msg("microphone not enabled")
	}
	a.setState(agentListening)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-a.events:
			switch ev.Kind {
			case rtclient.EventClosed:
				if ev.Err == nil || errors.Is(ev.Err, context.Canceled) {
					return nil
				}
				return ev.Err
			case rtclient.EventJoined:
				log.Info().Str("module", "agent").Str("participant", string(ev.Identity)).Msg("participant joined")
			case rtclient.EventDataReceived:
				a.reply(ctx, ev.Identity, string(ev.Data))
			}
		}
	}
}

func (a *stubAgent) reply(ctx context.Context, to domain.Identity, body string) {
	a.setState(agentThinking)
	select {
	case <-time.After(a.think):
	case <-ctx.Done():
		return
	}
	a.setState(agentSpeaking)
	if err := a.sess.SendData([]byte("echo: "+body), to); err != nil {
		log.Warn().Str("module", "agent").Err(err).Str("to", string(to)).Msg("reply not sent")
	}
	a.speak(ctx)
	a.setState(agentListening)
}

// speak streams silence frames on the audio track at real-time pace.
func (a *stubAgent) speak(ctx context.Context) {
	t := time.NewTicker(frameDuration)
	defer t.Stop()
	for i := 0; i < speakFrames; i++ {
		err := a.sess.WriteAudioSample(media.Sample{Data: opusSilence, Duration: frameDuration})
		if errors.Is(err, rtclient.ErrMuted) {
			return
		}
		if err != nil {
			log.Debug().Str("module", "agent").Err(err).Msg("audio frame dropped")
			return
		}
		select {
		case <-t.C:
		case <-ctx.Done():
			return
		}
	}
}
