// Package session coordinates the channel directory, history loading and
// the streaming connection. A Controller runs an event loop; every change to
// the directory and the view happens on that loop, while network calls run
// on the callers' goroutines and post their results back.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-client/internal/core"
	"github.com/vovakirdan/wirechat-client/internal/directory"
	wlog "github.com/vovakirdan/wirechat-client/internal/log"
	"github.com/vovakirdan/wirechat-client/internal/proto"
	"github.com/vovakirdan/wirechat-client/internal/stream"
)

// ChannelService is the server's channel list service.
type ChannelService interface {
	ListChannels(ctx context.Context) ([]core.Channel, error)
	JoinChannel(ctx context.Context, name string) (core.Channel, bool, error)
	LeaveChannel(ctx context.Context, id core.ChannelID) error
}

// HistoryLoader fetches a channel's backlog.
type HistoryLoader interface {
	Load(ctx context.Context, id core.ChannelID) ([]core.Message, error)
}

// Connector owns the streaming connection. Bind and Unbind return the
// generation that events must carry to be accepted.
type Connector interface {
	Bind(id core.ChannelID) uint64
	Unbind() uint64
	Send(ctx context.Context, payload proto.Payload) error
	Events() <-chan stream.Event
	CloseAll(ctx context.Context) error
}

// Snapshot is a copy of the controller's state.
type Snapshot struct {
	Channels   []core.Channel
	Selected   core.ChannelID
	Generation uint64
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller's logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(c *Controller) { c.log = wlog.OrNop(logger) }
}

// WithCloseTimeout bounds how long Run waits for connections to close on exit.
func WithCloseTimeout(d time.Duration) Option {
	return func(c *Controller) { c.closeTimeout = d }
}

// Controller is the session state machine.
type Controller struct {
	channels ChannelService
	history  HistoryLoader
	conn     Connector
	view     View
	log      *zerolog.Logger

	closeTimeout time.Duration

	ops     chan func()
	stopped chan struct{}

	// Owned by the loop.
	dir      *directory.Directory
	gen      uint64
	intent   uint64
	loading  bool
	buffered []core.Message
}

// New builds a controller. Run must be started before any other method
// can complete.
func New(channels ChannelService, history HistoryLoader, conn Connector, view View, opts ...Option) *Controller {
	c := &Controller{
		channels:     channels,
		history:      history,
		conn:         conn,
		view:         view,
		log:          wlog.Nop(),
		closeTimeout: 5 * time.Second,
		ops:          make(chan func()),
		stopped:      make(chan struct{}),
		dir:          directory.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run processes operations and connection events until ctx is done, then
// closes every connection.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.stopped)

	events := c.conn.Events()
	for {
		select {
		case <-ctx.Done():
			c.teardown()
			return nil
		case op := <-c.ops:
			op()
		case ev := <-events:
			c.handleEvent(ev)
		}
	}
}

// LoadChannels fetches the joined channels, renders them in server order and
// selects the first one when nothing is selected yet.
func (c *Controller) LoadChannels(ctx context.Context) error {
	channels, err := c.channels.ListChannels(ctx)
	if err != nil {
		c.notify(ctx, err)
		return err
	}

	var (
		gen       uint64
		first     core.ChannelID
		switchErr error
	)
	err = c.do(ctx, func() {
		for _, ch := range channels {
			c.dir.Add(ch)
		}
		c.view.SetChannels(c.dir.Channels())
		c.log.Info().Int("count", c.dir.Len()).Msg("channels loaded")

		if _, ok := c.dir.Selected(); ok {
			return
		}
		id, ok := c.dir.FirstChannelID()
		if !ok {
			c.view.ShowMessageArea(false)
			return
		}
		if gen, switchErr = c.switchLocked(id); switchErr == nil {
			first = id
		}
	})
	if err != nil {
		return err
	}
	if switchErr != nil || first == "" {
		return switchErr
	}
	return c.loadHistory(ctx, first, gen)
}

// SwitchTo selects channel id, binds the connection to it and replaces the
// message list with its history. It returns once the history has been
// applied, failed, or been superseded by a later selection (nil).
func (c *Controller) SwitchTo(ctx context.Context, id core.ChannelID) error {
	var (
		gen uint64
		err error
	)
	if doErr := c.do(ctx, func() { gen, err = c.switchLocked(id) }); doErr != nil {
		return doErr
	}
	if err != nil {
		return err
	}
	return c.loadHistory(ctx, id, gen)
}

// JoinChannel joins the channel called name and switches to it. A channel
// already in the directory is not added again. If the user selected another
// channel while the join was in flight the channel is still added but the
// selection is left alone.
func (c *Controller) JoinChannel(ctx context.Context, name string) error {
	var intent uint64
	if err := c.do(ctx, func() {
		c.intent++
		intent = c.intent
	}); err != nil {
		return err
	}

	ch, alreadyJoined, err := c.channels.JoinChannel(ctx, name)
	if err != nil {
		c.notify(ctx, err)
		return err
	}

	var (
		gen       uint64
		switched  bool
		switchErr error
	)
	err = c.do(ctx, func() {
		if c.dir.Add(ch) {
			c.view.AddChannel(ch)
		}
		c.log.Info().
			Str("channel_id", ch.ID.String()).
			Bool("already_joined", alreadyJoined).
			Msg("joined channel")

		if intent != c.intent {
			c.log.Debug().Err(core.ErrStale).Str("channel_id", ch.ID.String()).Msg("join superseded, not switching")
			return
		}
		if gen, switchErr = c.switchLocked(ch.ID); switchErr == nil {
			switched = true
		}
	})
	if err != nil {
		return err
	}
	if switchErr != nil || !switched {
		return switchErr
	}
	return c.loadHistory(ctx, ch.ID, gen)
}

// LeaveChannel leaves channel id. If it was selected, the first remaining
// channel is selected; with none left the connection is closed and the
// message area hidden. On failure nothing changes.
func (c *Controller) LeaveChannel(ctx context.Context, id core.ChannelID) error {
	var known bool
	if err := c.do(ctx, func() { known = c.dir.Contains(id) }); err != nil {
		return err
	}
	if !known {
		c.log.Error().Str("channel_id", id.String()).Str("op", "leave").Msg("unknown channel")
		return core.NotFound(id)
	}

	if err := c.channels.LeaveChannel(ctx, id); err != nil {
		c.notify(ctx, err)
		return err
	}

	var (
		gen  uint64
		next core.ChannelID
	)
	err := c.do(ctx, func() {
		wasSelected := c.dir.IsSelected(id)
		if c.dir.Remove(id) {
			c.view.RemoveChannel(id)
		}
		c.log.Info().Str("channel_id", id.String()).Bool("was_selected", wasSelected).Msg("left channel")
		if !wasSelected {
			return
		}

		first, ok := c.dir.FirstChannelID()
		if !ok {
			c.gen = c.conn.Unbind()
			c.loading = false
			c.buffered = nil
			c.view.ShowMessageArea(false)
			return
		}
		var err error
		if gen, err = c.switchLocked(first); err == nil {
			next = first
		}
	})
	if err != nil || next == "" {
		return err
	}
	return c.loadHistory(ctx, next, gen)
}

// Send posts text to the selected channel and clears the composer.
func (c *Controller) Send(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return core.ErrEmptyMessage
	}

	if err := c.conn.Send(ctx, proto.TextPayload(text)); err != nil {
		if errors.Is(err, core.ErrNotConnected) {
			c.log.Error().Str("op", "send").Msg("send without open connection")
			return err
		}
		c.notify(ctx, err)
		return err
	}
	return c.do(ctx, func() { c.view.ClearComposer() })
}

// Snapshot returns a copy of the directory and the current generation.
func (c *Controller) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := c.do(ctx, func() {
		snap.Channels = c.dir.Channels()
		snap.Selected, _ = c.dir.Selected()
		snap.Generation = c.gen
	})
	return snap, err
}

// switchLocked runs on the loop. It updates selection and view, rebinds the
// connection and arms history buffering for the new generation.
func (c *Controller) switchLocked(id core.ChannelID) (uint64, error) {
	prev, err := c.dir.Select(id)
	if err != nil {
		c.log.Error().Err(err).Str("op", "switch").Msg("unknown channel")
		return 0, err
	}
	c.intent++

	if prev != "" && prev != id {
		c.view.SetActive(prev, false)
	}
	c.view.SetActive(id, true)
	c.view.ShowMessageArea(true)

	c.gen = c.conn.Bind(id)
	c.loading = true
	c.buffered = nil

	ch, _ := c.dir.Get(id)
	c.log.Debug().
		Str("channel_id", id.String()).
		Str("channel", ch.Name).
		Str("previous", prev.String()).
		Uint64("generation", c.gen).
		Msg("switched channel")
	return c.gen, nil
}

// loadHistory fetches with the caller's ctx but always hands the outcome to
// the loop, so an abandoned fetch still ends buffering for its generation.
func (c *Controller) loadHistory(ctx context.Context, id core.ChannelID, gen uint64) error {
	msgs, loadErr := c.history.Load(ctx, id)

	var result error
	if err := c.do(context.WithoutCancel(ctx), func() { result = c.applyHistory(gen, msgs, loadErr) }); err != nil {
		return err
	}
	return result
}

// applyHistory runs on the loop. Messages that arrived on the connection
// while the history was loading are appended unless the history already
// holds them. A failed load keeps the displayed list.
func (c *Controller) applyHistory(gen uint64, msgs []core.Message, loadErr error) error {
	if gen != c.gen {
		c.log.Debug().Err(core.ErrStale).Uint64("generation", gen).Msg("dropping history result")
		return nil
	}

	buffered := c.buffered
	c.loading = false
	c.buffered = nil

	if loadErr != nil {
		c.view.Notify(loadErr)
		for _, msg := range buffered {
			c.view.AppendMessage(msg)
		}
		return loadErr
	}

	seen := make(map[string]struct{}, len(msgs))
	for _, msg := range msgs {
		if msg.ID != "" {
			seen[msg.ID] = struct{}{}
		}
	}
	merged := append([]core.Message(nil), msgs...)
	for _, msg := range buffered {
		if _, dup := seen[msg.ID]; dup && msg.ID != "" {
			continue
		}
		merged = append(merged, msg)
	}
	c.view.ReplaceMessages(merged)
	return nil
}

func (c *Controller) handleEvent(ev stream.Event) {
	if ev.Generation != c.gen {
		c.log.Debug().
			Err(core.ErrStale).
			Uint64("generation", ev.Generation).
			Stringer("kind", ev.Kind).
			Msg("dropping connection event")
		return
	}

	switch ev.Kind {
	case stream.EventOpened:
		c.log.Debug().Str("channel_id", ev.Channel.String()).Uint64("generation", ev.Generation).Msg("connection ready")
	case stream.EventMessage:
		if c.loading {
			c.buffered = append(c.buffered, ev.Message)
			return
		}
		c.view.AppendMessage(ev.Message)
	case stream.EventDisconnected:
		c.log.Warn().Err(ev.Err).Str("channel_id", ev.Channel.String()).Msg("connection lost")
		c.view.Notify(fmt.Errorf("connection to channel %s lost: %w", ev.Channel, ev.Err))
	}
}

func (c *Controller) teardown() {
	ctx, cancel := context.WithTimeout(context.Background(), c.closeTimeout)
	defer cancel()

	if err := c.conn.CloseAll(ctx); err != nil {
		c.log.Warn().Err(err).Msg("connections did not close in time")
		return
	}
	c.log.Debug().Msg("connections closed")
}

// notify surfaces err from outside the loop.
func (c *Controller) notify(ctx context.Context, err error) {
	c.log.Warn().Err(err).Msg("operation failed")
	_ = c.do(ctx, func() { c.view.Notify(err) })
}

// do runs fn on the loop and waits for it to finish. ctx only bounds the
// wait for the loop to accept fn: once accepted, fn runs to completion and
// do reports nil, so a caller never abandons a transition half-applied.
func (c *Controller) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	op := func() {
		fn()
		close(done)
	}

	select {
	case c.ops <- op:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopped:
		return core.ErrStopped
	}

	// The loop runs an accepted op before it can stop.
	<-done
	return nil
}
