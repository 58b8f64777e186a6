package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dkeye/VoiceAgent/internal/domain"
	"github.com/dkeye/VoiceAgent/internal/rtclient"
	"github.com/dkeye/VoiceAgent/internal/session"
	"github.com/dkeye/VoiceAgent/internal/tokenclient"
	"github.com/spf13/cobra"
)

func newConnectCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "connect",
		Short: "Join a room as a headless participant",
		Long: `Fetch a grant, join the room and print room activity.

Lines typed on stdin are sent to the agent (or to the whole room when no
agent is present). Commands:
  /mic    toggle the microphone
  /cam    toggle the camera
  /who    list participants
  /clear  clear the message log
  /quit   leave the room`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return err
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
			})
			if err != nil {
				return err
			}

			o := session.New(session.RTClientFactory(rtclient.Options{
				Kind:       domain.KindNormal,
				ICEServers: cfg.ICEServers,
			}), session.Config{
				ConnectTimeout:   cfg.ConnectTimeout,
				MessageRetention: cfg.MessageRetention,
				AgentPrefix:      cfg.AgentPrefix,
			})
			defer o.Close()

			sub := o.Subscribe()
			if _, err := o.Connect(ctx, resp.Grant, resp.TransportURL, domain.RoomName(resp.RoomName)); err != nil {
				return err
			}
			return runConsole(ctx, o, sub, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

// console renders orchestrator state as text lines.
type console struct {
	out      io.Writer
	last     session.Snapshot
	lastSeen *domain.Message
}

func runConsole(ctx context.Context, o *session.Orchestrator, sub *session.Subscription, in io.Reader, out io.Writer) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	c := &console{out: out}
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-sub.Snapshots:
			if !ok {
				return nil
			}
			c.render(snap)
			if snap.Phase == domain.PhaseFailed {
				return snap.LastError
			}
		case n, ok := <-sub.Notices:
			if !ok {
				return nil
			}
			if n.Err != nil {
				fmt.Fprintf(out, "! %s: %s: %v\n", n.Kind, n.Message, n.Err)
			} else {
				fmt.Fprintf(out, "! %s: %s\n", n.Kind, n.Message)
			}
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := c.command(o, strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

// command handles one input line and reports whether to leave.
func (c *console) command(o *session.Orchestrator, line string) bool {
	var err error
	switch line {
	case "":
		return false
	case "/quit":
		o.Disconnect()
		return true
	case "/mic":
		err = o.ToggleMicrophone()
	case "/cam":
		err = o.ToggleCamera()
	case "/clear":
		if err = o.ClearMessages(); err == nil {
			c.lastSeen = nil
		}
	case "/who":
		for _, p := range o.Snapshot().Participants {
			fmt.Fprintf(c.out, "  %s (%s) %s\n", p.Identity, p.Kind, p.State)
		}
	default:
		err = o.SendData(line, o.Snapshot().AgentIdentity)
	}
	if err != nil {
		fmt.Fprintf(c.out, "! %v\n", err)
	}
	return false
}

func (c *console) render(s session.Snapshot) {
	prev := c.last
	c.last = s
	if s.Phase != prev.Phase {
		fmt.Fprintf(c.out, "* %s", s.Phase)
		if s.Phase == domain.PhaseConnected {
			fmt.Fprintf(c.out, " to %s as %s", s.Room, s.LocalIdentity)
		}
		fmt.Fprintln(c.out)
	}
	if s.Media != prev.Media && s.Phase == domain.PhaseConnected {
		fmt.Fprintf(c.out, "* mic %s, camera %s\n", onOff(s.Media.AudioEnabled), onOff(s.Media.VideoEnabled))
	}
	for _, p := range s.Participants {
		if _, ok := prev.Participant(p.Identity); !ok {
			fmt.Fprintf(c.out, "+ %s joined\n", p.Identity)
		}
	}
	for _, p := range prev.Participants {
		if _, ok := s.Participant(p.Identity); !ok {
			fmt.Fprintf(c.out, "- %s left\n", p.Identity)
		}
	}
	if s.AgentIdentity != prev.AgentIdentity || s.AgentState != prev.AgentState {
		if s.AgentIdentity == "" {
			fmt.Fprintln(c.out, "* waiting for agent")
		} else {
			fmt.Fprintf(c.out, "* agent %s is %s\n", s.AgentIdentity, s.AgentState)
		}
	}
	for _, m := range unseen(s.Messages, c.lastSeen) {
		if !m.Local {
			fmt.Fprintf(c.out, "%s: %s\n", m.From, m.Body)
		}
	}
	if n := len(s.Messages); n > 0 {
		m := s.Messages[n-1]
		c.lastSeen = &m
	}
}

// unseen returns the messages after last. When last is no longer in the log
// every message is new.
func unseen(msgs []domain.Message, last *domain.Message) []domain.Message {
	if last == nil {
		return msgs
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i] == *last {
			return msgs[i+1:]
		}
	}
	return msgs
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
