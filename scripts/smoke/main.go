// Command smoke joins a channel on a running chat server, sends one message
// over the socket and waits for it to come back.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-client/internal/config"
	wlog "github.com/vovakirdan/wirechat-client/internal/log"
	"github.com/vovakirdan/wirechat-client/internal/proto"
	"github.com/vovakirdan/wirechat-client/internal/stream"
	transporthttp "github.com/vovakirdan/wirechat-client/internal/transport/http"
)

var (
	server  string
	session string
	channel string
	text    string
	leave   bool
	timeout time.Duration
)

func main() {
	cmd := &cobra.Command{
		Use:           "smoke",
		Short:         "Round-trip one message through a chat server",
		RunE:          run,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.Flags().StringVar(&server, "server", "http://localhost:8888", "server base URL")
	cmd.Flags().StringVar(&session, "session", "", "session cookie value")
	cmd.Flags().StringVar(&channel, "channel", "smoke", "channel name to join")
	cmd.Flags().StringVar(&text, "text", "hello from smoke test", "message text to send")
	cmd.Flags().BoolVar(&leave, "leave", false, "leave the channel afterwards")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "total timeout for the run")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(_ *cobra.Command, _ []string) error {
	logger := wlog.New("debug", os.Stderr)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cfg := config.Default()
	cfg.ServerURL = server
	cfg.SessionCookie = session

	client, err := transporthttp.NewClient(cfg, logger)
	if err != nil {
		return err
	}

	ch, already, err := client.JoinChannel(ctx, channel)
	if err != nil {
		return fmt.Errorf("join: %w", err)
	}
	logger.Info().Str("channel_id", ch.ID.String()).Bool("already_joined", already).Msg("joined")

	msgs, err := client.History(ctx, ch.ID)
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	logger.Info().Int("count", len(msgs)).Msg("history loaded")

	manager := stream.NewManager(stream.NewWSDialer(client.StreamURL, client.HTTPClient(), cfg.MaxMessageBytes), cfg.DialTimeout, logger)
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), cfg.CloseTimeout)
		defer closeCancel()
		_ = manager.CloseAll(closeCtx)
	}()

	gen := manager.Bind(ch.ID)
	if err := roundTrip(ctx, manager, gen); err != nil {
		return err
	}
	st := manager.Status()
	logger.Info().
		Str("conn_id", st.ConnID).
		Stringer("state", st.State).
		Uint64("generation", st.Generation).
		Msg("round trip ok")

	if leave {
		if err := client.LeaveChannel(ctx, ch.ID); err != nil {
			return fmt.Errorf("leave: %w", err)
		}
		logger.Info().Str("channel_id", ch.ID.String()).Msg("left")
	}
	return nil
}

func roundTrip(ctx context.Context, manager *stream.Manager, gen uint64) error {
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for echo: %w", ctx.Err())
		case ev := <-manager.Events():
			if ev.Generation != gen {
				continue
			}
			switch ev.Kind {
			case stream.EventOpened:
				if err := manager.Send(ctx, proto.TextPayload(text)); err != nil {
					return fmt.Errorf("send: %w", err)
				}
			case stream.EventMessage:
				if ev.Message.Text == text && !ev.Message.IsSystem() {
					fmt.Printf("echo from %s at %s: %q\n", ev.Message.Author, ev.Message.Time().Format(time.RFC3339), ev.Message.Text)
					return nil
				}
			case stream.EventDisconnected:
				if ev.Err == nil {
					return errors.New("disconnected")
				}
				return fmt.Errorf("disconnected: %w", ev.Err)
			}
		}
	}
}
