// Package stream owns the single live streaming connection. Every Bind
// retires the previous connection and starts a new one under a fresh
// generation number; events from any other generation are stale.
package stream

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-client/internal/core"
	wlog "github.com/vovakirdan/wirechat-client/internal/log"
	"github.com/vovakirdan/wirechat-client/internal/proto"
)

const eventBuffer = 64

// Status is a point-in-time view of the manager.
type Status struct {
	Generation uint64
	Channel    core.ChannelID // empty when nothing is bound
	State      State
	ConnID     string
}

// Manager keeps at most one connection that is not retired. It is safe for
// concurrent use.
type Manager struct {
	dialer      Dialer
	dialTimeout time.Duration
	log         *zerolog.Logger
	events      chan Event

	mu   sync.Mutex
	gen  uint64
	cur  *connection
	live map[*connection]struct{}
}

type connection struct {
	id      string
	gen     uint64
	channel core.ChannelID
	state   State
	conn    Conn // nil until the handshake completes

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager returns a Manager that opens connections with dialer.
// dialTimeout bounds each handshake; zero means no bound.
func NewManager(dialer Dialer, dialTimeout time.Duration, logger *zerolog.Logger) *Manager {
	return &Manager{
		dialer:      dialer,
		dialTimeout: dialTimeout,
		log:         wlog.OrNop(logger),
		events:      make(chan Event, eventBuffer),
		live:        make(map[*connection]struct{}),
	}
}

// Events returns the channel on which connection events are delivered.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// Bind retires the current connection, if any, and starts one bound to
// channel. The old connection is in StateClosing by the time Bind returns;
// Bind does not wait for either handshake. It returns the new generation.
func (m *Manager) Bind(channel core.ChannelID) uint64 {
	ctx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	if m.cur != nil {
		m.retireLocked(m.cur, "switching channel")
	}
	m.gen++
	c := &connection{
		id:      uuid.NewString(),
		gen:     m.gen,
		channel: channel,
		state:   StateConnecting,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	m.cur = c
	m.live[c] = struct{}{}
	m.mu.Unlock()

	m.log.Debug().
		Str("channel_id", channel.String()).
		Uint64("generation", c.gen).
		Str("conn_id", c.id).
		Msg("binding connection")

	go m.run(c)
	return c.gen
}

// Unbind retires the current connection without replacing it and returns
// the new generation.
func (m *Manager) Unbind() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cur != nil {
		m.retireLocked(m.cur, "leaving channel")
		m.cur = nil
	}
	m.gen++
	return m.gen
}

// Send writes payload over the current connection. It fails with
// core.ErrNotConnected unless that connection is open.
func (m *Manager) Send(ctx context.Context, payload proto.Payload) error {
	m.mu.Lock()
	c := m.cur
	if c == nil || c.state != StateOpen {
		m.mu.Unlock()
		return core.ErrNotConnected
	}
	conn := c.conn
	m.mu.Unlock()

	if err := conn.Write(ctx, payload); err != nil {
		m.log.Warn().Err(err).Str("conn_id", c.id).Str("channel_id", c.channel.String()).Msg("send failed")
		return core.NewNetworkError("send", 0, err)
	}
	return nil
}

// CloseAll retires every connection and waits until all of them have
// finished closing, or ctx is done.
func (m *Manager) CloseAll(ctx context.Context) error {
	m.mu.Lock()
	if m.cur != nil {
		m.retireLocked(m.cur, "client shutdown")
		m.cur = nil
	}
	m.gen++
	pending := make([]*connection, 0, len(m.live))
	for c := range m.live {
		pending = append(pending, c)
	}
	m.mu.Unlock()

	for _, c := range pending {
		select {
		case <-c.done:
		case <-ctx.Done():
			m.log.Warn().Err(ctx.Err()).Int("pending", len(pending)).Msg("close all interrupted")
			return ctx.Err()
		}
	}
	return nil
}

// Status reports the current generation and connection.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{Generation: m.gen, State: StateClosed}
	if m.cur != nil {
		st.Channel = m.cur.channel
		st.State = m.cur.state
		st.ConnID = m.cur.id
	}
	return st
}

// OpenCount returns how many connections are in StateOpen.
func (m *Manager) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for c := range m.live {
		if c.state == StateOpen {
			n++
		}
	}
	return n
}

// retireLocked moves c to StateClosing and closes it in the background.
// The close handshake runs before the read context is cancelled so the
// peer sees a normal closure.
func (m *Manager) retireLocked(c *connection, reason string) {
	if c.state == StateClosing || c.state == StateClosed {
		return
	}
	c.state = StateClosing
	conn := c.conn

	m.log.Debug().
		Str("channel_id", c.channel.String()).
		Uint64("generation", c.gen).
		Str("conn_id", c.id).
		Msg("retiring connection")

	go func() {
		if conn != nil {
			if err := conn.Close(reason); err != nil {
				m.log.Debug().Err(err).Str("conn_id", c.id).Msg("close handshake")
			}
		}
		c.cancel()
	}()
}

func (m *Manager) run(c *connection) {
	defer func() {
		c.cancel()
		m.mu.Lock()
		c.state = StateClosed
		delete(m.live, c)
		m.mu.Unlock()
		close(c.done)
	}()

	dialCtx := c.ctx
	if m.dialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(c.ctx, m.dialTimeout)
		defer cancel()
	}

	conn, err := m.dialer.Dial(dialCtx, c.channel)
	if err != nil {
		if m.retired(c) {
			return
		}
		m.log.Warn().Err(err).Str("channel_id", c.channel.String()).Str("conn_id", c.id).Msg("dial failed")
		m.emit(c, Event{Kind: EventDisconnected, Err: err})
		return
	}

	m.mu.Lock()
	if c.state != StateConnecting {
		m.mu.Unlock()
		if err := conn.Close("superseded"); err != nil {
			m.log.Debug().Err(err).Str("conn_id", c.id).Msg("close handshake")
		}
		return
	}
	c.conn = conn
	c.state = StateOpen
	m.mu.Unlock()

	m.log.Info().
		Str("channel_id", c.channel.String()).
		Uint64("generation", c.gen).
		Str("conn_id", c.id).
		Msg("connection open")
	m.emit(c, Event{Kind: EventOpened})

	for {
		msg, err := conn.Read(c.ctx)
		if err != nil {
			if m.retired(c) {
				return
			}
			m.log.Warn().
				Err(err).
				Str("channel_id", c.channel.String()).
				Str("conn_id", c.id).
				Int("status", int(websocket.CloseStatus(err))).
				Msg("connection closed by server")
			m.mu.Lock()
			c.state = StateClosed
			m.mu.Unlock()
			m.emit(c, Event{Kind: EventDisconnected, Err: disconnectError(err)})
			return
		}
		m.emit(c, Event{Kind: EventMessage, Message: msg})
	}
}

func (m *Manager) retired(c *connection) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return c.state == StateClosing || c.state == StateClosed
}

// emit delivers ev unless c has been superseded. A retired connection's
// context is cancelled, which unblocks a pending send.
func (m *Manager) emit(c *connection, ev Event) {
	ev.Generation = c.gen
	ev.Channel = c.channel

	m.mu.Lock()
	current := m.gen == c.gen
	m.mu.Unlock()
	if !current {
		m.log.Debug().Str("conn_id", c.id).Stringer("kind", ev.Kind).Msg("dropping stale event")
		return
	}

	select {
	case m.events <- ev:
	case <-c.ctx.Done():
	}
}

func disconnectError(err error) error {
	if errors.Is(err, core.ErrNetwork) {
		return err
	}
	return core.NewNetworkError("stream", 0, err)
}
