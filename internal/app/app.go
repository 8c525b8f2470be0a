// Package app wires the REST client, connection manager, session controller
// and console view together and drives them from line-based user input.
package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/wirechat-client/internal/config"
	"github.com/vovakirdan/wirechat-client/internal/core"
	"github.com/vovakirdan/wirechat-client/internal/history"
	wlog "github.com/vovakirdan/wirechat-client/internal/log"
	"github.com/vovakirdan/wirechat-client/internal/session"
	"github.com/vovakirdan/wirechat-client/internal/stream"
	transporthttp "github.com/vovakirdan/wirechat-client/internal/transport/http"
	"github.com/vovakirdan/wirechat-client/internal/view"
)

// App is a running chat client.
type App struct {
	ctrl    *session.Controller
	console *view.Console
	in      io.Reader
	log     *zerolog.Logger
}

// Options tweak how the App talks to the terminal.
type Options struct {
	In    io.Reader
	Out   io.Writer
	Color bool
}

// New constructs the client from cfg.
func New(cfg config.Config, opts Options, logger *zerolog.Logger) (*App, error) {
	logger = wlog.OrNop(logger)

	client, err := transporthttp.NewClient(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("init http client: %w", err)
	}

	dialer := stream.NewWSDialer(client.StreamURL, client.HTTPClient(), cfg.MaxMessageBytes)
	manager := stream.NewManager(dialer, cfg.DialTimeout, logger)
	console := view.NewConsole(opts.Out, opts.Color)
	loader := history.NewLoader(client, logger)

	ctrl := session.New(client, loader, manager, console,
		session.WithLogger(logger),
		session.WithCloseTimeout(cfg.CloseTimeout),
	)

	logger.Info().Str("server_url", cfg.ServerURL).Msg("client configured")

	return &App{
		ctrl:    ctrl,
		console: console,
		in:      opts.In,
		log:     logger,
	}, nil
}

// Run loads the channel list and processes input until ctx is cancelled,
// input ends, or the user quits. Connections are closed before it returns.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.ctrl.Run(gctx)
	})

	g.Go(func() error {
		if err := a.ctrl.LoadChannels(gctx); err != nil {
			a.log.Warn().Err(err).Msg("initial channel load failed")
		}
		return nil
	})

	g.Go(func() error {
		defer cancel()
		return a.readCommands(gctx, g)
	})

	return g.Wait()
}

// readCommands handles input lines in order. Commands that wait on the
// server run on their own goroutines so a slow request never holds up the
// next line; the controller decides which of overlapping selections wins.
func (a *App) readCommands(ctx context.Context, g *errgroup.Group) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(a.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			a.log.Warn().Err(err).Msg("read input")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				a.log.Debug().Msg("input closed")
				return nil
			}
			cmd, err := ParseCommand(line)
			if err != nil {
				a.report(err)
				continue
			}
			switch cmd.Kind {
			case CommandQuit:
				return nil
			case CommandJoin, CommandLeave, CommandSwitch:
				g.Go(func() error {
					a.report(a.execute(ctx, cmd))
					return nil
				})
			default:
				a.report(a.execute(ctx, cmd))
			}
		}
	}
}

// report prints err unless it is already on screen or caused by shutdown.
func (a *App) report(err error) {
	switch {
	case err == nil:
	case errors.Is(err, core.ErrStopped), errors.Is(err, context.Canceled):
	case errors.Is(err, core.ErrNetwork):
		// Shown by the controller.
	default:
		a.console.Notify(err)
	}
}

func (a *App) execute(ctx context.Context, cmd Command) error {
	switch cmd.Kind {
	case CommandSend:
		if err := a.ctrl.Send(ctx, cmd.Arg); err != nil {
			if errors.Is(err, core.ErrEmptyMessage) {
				return nil
			}
			return err
		}
		return nil
	case CommandJoin:
		return a.ctrl.JoinChannel(ctx, cmd.Arg)
	case CommandLeave:
		id := core.ChannelID(cmd.Arg)
		if id == "" {
			snap, err := a.ctrl.Snapshot(ctx)
			if err != nil {
				return err
			}
			if snap.Selected == "" {
				return fmt.Errorf("/leave: %w: no channel selected", ErrMissingArgument)
			}
			id = snap.Selected
		}
		return a.ctrl.LeaveChannel(ctx, id)
	case CommandSwitch:
		return a.ctrl.SwitchTo(ctx, core.ChannelID(cmd.Arg))
	case CommandChannels:
		a.console.PrintChannels()
		return nil
	case CommandHelp:
		a.console.Println(helpText)
		return nil
	}
	return nil
}
