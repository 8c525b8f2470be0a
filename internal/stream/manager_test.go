package stream

import (
	"context"
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wirechat-client/internal/core"
	wlog "github.com/vovakirdan/wirechat-client/internal/log"
	"github.com/vovakirdan/wirechat-client/internal/proto"
)

var errPeerClosed = errors.New("peer closed")

type fakeConn struct {
	channel core.ChannelID
	in      chan core.Message
	closed  chan struct{}
	once    sync.Once

	closeErr error

	mu      sync.Mutex
	written []proto.Payload
	reason  string
}

func newFakeConn(channel core.ChannelID) *fakeConn {
	return &fakeConn{
		channel: channel,
		in:      make(chan core.Message, 16),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) Read(ctx context.Context) (core.Message, error) {
	select {
	case msg := <-c.in:
		return msg, nil
	case <-c.closed:
		return core.Message{}, errPeerClosed
	case <-ctx.Done():
		return core.Message{}, ctx.Err()
	}
}

func (c *fakeConn) Write(_ context.Context, payload proto.Payload) error {
	select {
	case <-c.closed:
		return errPeerClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, payload)
	return nil
}

func (c *fakeConn) Close(reason string) error {
	c.once.Do(func() {
		c.mu.Lock()
		c.reason = reason
		c.mu.Unlock()
		close(c.closed)
	})
	return c.closeErr
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) closeReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

func (c *fakeConn) payloads() []proto.Payload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]proto.Payload(nil), c.written...)
}

type fakeDialer struct {
	mu    sync.Mutex
	gates map[core.ChannelID]chan struct{}
	fail  map[core.ChannelID]error
	conns []*fakeConn
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{
		gates: make(map[core.ChannelID]chan struct{}),
		fail:  make(map[core.ChannelID]error),
	}
}

// hold blocks dials of channel until the returned func is called.
func (d *fakeDialer) hold(channel core.ChannelID) func() {
	gate := make(chan struct{})
	d.mu.Lock()
	d.gates[channel] = gate
	d.mu.Unlock()
	return func() { close(gate) }
}

func (d *fakeDialer) Dial(ctx context.Context, channel core.ChannelID) (Conn, error) {
	d.mu.Lock()
	gate := d.gates[channel]
	failure := d.fail[channel]
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failure != nil {
		return nil, failure
	}

	conn := newFakeConn(channel)
	d.mu.Lock()
	d.conns = append(d.conns, conn)
	d.mu.Unlock()
	return conn, nil
}

func (d *fakeDialer) dialed() []*fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*fakeConn(nil), d.conns...)
}

func (d *fakeDialer) last(t *testing.T) *fakeConn {
	t.Helper()
	conns := d.dialed()
	require.NotEmpty(t, conns, "nothing dialed")
	return conns[len(conns)-1]
}

// slowDialer ignores cancellation, so a dial can finish after its
// connection was retired.
type slowDialer struct {
	gate chan struct{}
	conn *fakeConn
}

func (d *slowDialer) Dial(context.Context, core.ChannelID) (Conn, error) {
	<-d.gate
	return d.conn, nil
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func mustEvent(t *testing.T, events <-chan Event, kind EventKind) Event {
	t.Helper()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s event", kind)
		}
	}
}

// mustCurrent waits for kind from generation gen, skipping anything older the
// way a consumer would.
func mustCurrent(t *testing.T, events <-chan Event, kind EventKind, gen uint64) Event {
	t.Helper()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Kind == kind && ev.Generation == gen {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s event of generation %d", kind, gen)
		}
	}
}

func assertNoEvent(t *testing.T, events <-chan Event, wait time.Duration) {
	t.Helper()

	select {
	case ev := <-events:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(wait):
	}
}

func TestBindOpensAndDeliversMessages(t *testing.T) {
	dialer := newFakeDialer()
	m := NewManager(dialer, time.Second, nil)

	gen := m.Bind("1")
	opened := mustEvent(t, m.Events(), EventOpened)
	assert.Equal(t, gen, opened.Generation)
	assert.Equal(t, core.ChannelID("1"), opened.Channel)

	conn := dialer.last(t)
	conn.in <- core.Message{ID: "m1", Author: "bob", Text: "hi", Timestamp: 1}

	ev := mustEvent(t, m.Events(), EventMessage)
	assert.Equal(t, gen, ev.Generation)
	assert.Equal(t, "hi", ev.Message.Text)

	require.NoError(t, m.Send(context.Background(), proto.TextPayload("hello")))
	assert.Equal(t, []proto.Payload{{"message": "hello"}}, conn.payloads())

	st := m.Status()
	assert.Equal(t, StateOpen, st.State)
	assert.Equal(t, core.ChannelID("1"), st.Channel)
	assert.NotEmpty(t, st.ConnID)
}

func TestSendWithoutOpenConnection(t *testing.T) {
	dialer := newFakeDialer()
	m := NewManager(dialer, time.Second, nil)

	assert.ErrorIs(t, m.Send(context.Background(), proto.TextPayload("x")), core.ErrNotConnected)

	release := dialer.hold("1")
	defer release()
	m.Bind("1")

	assert.Equal(t, StateConnecting, m.Status().State)
	assert.ErrorIs(t, m.Send(context.Background(), proto.TextPayload("x")), core.ErrNotConnected)
}

func TestRebindRetiresPreviousConnection(t *testing.T) {
	dialer := newFakeDialer()
	m := NewManager(dialer, time.Second, nil)

	first := m.Bind("1")
	mustEvent(t, m.Events(), EventOpened)
	old := dialer.last(t)

	second := m.Bind("2")
	require.Greater(t, second, first)

	opened := mustCurrent(t, m.Events(), EventOpened, second)
	assert.Equal(t, core.ChannelID("2"), opened.Channel)

	require.Eventually(t, old.isClosed, time.Second, 5*time.Millisecond)
	assert.Equal(t, "switching channel", old.closeReason())
	require.Eventually(t, func() bool { return m.OpenCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, m.Send(context.Background(), proto.TextPayload("to two")))
	assert.Empty(t, old.payloads())
	conns := dialer.dialed()
	require.Len(t, conns, 2)
	assert.Len(t, conns[1].payloads(), 1)
}

func TestSupersededDialIsClosedWithoutEvents(t *testing.T) {
	dialer := newFakeDialer()
	m := NewManager(dialer, 0, nil)

	release := dialer.hold("1")
	m.Bind("1")
	second := m.Bind("2")

	opened := mustEvent(t, m.Events(), EventOpened)
	assert.Equal(t, second, opened.Generation)

	// The first dial was cancelled when it was retired; a late release is harmless.
	release()
	assertNoEvent(t, m.Events(), 50*time.Millisecond)

	for _, conn := range dialer.dialed() {
		if conn.channel == "1" {
			assert.True(t, conn.isClosed(), "stale connection left open")
		}
	}
	assert.Equal(t, core.ChannelID("2"), m.Status().Channel)
}

func TestLateDialAfterRetireIsClosedAndLogged(t *testing.T) {
	conn := newFakeConn("1")
	conn.closeErr = errors.New("close frame lost")
	dialer := &slowDialer{gate: make(chan struct{}), conn: conn}
	logs := &lockedBuffer{}
	m := NewManager(dialer, 0, wlog.New("debug", logs))

	m.Bind("1")
	m.Unbind()
	close(dialer.gate)

	require.Eventually(t, conn.isClosed, time.Second, 5*time.Millisecond)
	assert.Equal(t, "superseded", conn.closeReason())
	require.Eventually(t, func() bool {
		return strings.Contains(logs.String(), "close frame lost")
	}, time.Second, 5*time.Millisecond)
	assertNoEvent(t, m.Events(), 50*time.Millisecond)
	assert.Zero(t, m.OpenCount())
}

func TestRapidBindsLastWins(t *testing.T) {
	dialer := newFakeDialer()
	m := NewManager(dialer, time.Second, nil)

	var last uint64
	for _, id := range []core.ChannelID{"1", "2", "3", "4"} {
		last = m.Bind(id)
	}

	opened := mustCurrent(t, m.Events(), EventOpened, last)
	assert.Equal(t, core.ChannelID("4"), opened.Channel)

	require.Eventually(t, func() bool { return m.OpenCount() == 1 }, time.Second, 5*time.Millisecond)
	for _, conn := range dialer.dialed() {
		if conn.channel != "4" {
			require.Eventually(t, conn.isClosed, time.Second, 5*time.Millisecond)
		}
	}

	var latest *fakeConn
	for _, conn := range dialer.dialed() {
		if conn.channel == "4" {
			latest = conn
		}
	}
	require.NotNil(t, latest)
	latest.in <- core.Message{Text: "latest"}
	ev := mustCurrent(t, m.Events(), EventMessage, last)
	assert.Equal(t, "latest", ev.Message.Text)
}

func TestServerCloseReportsDisconnected(t *testing.T) {
	dialer := newFakeDialer()
	m := NewManager(dialer, time.Second, nil)

	gen := m.Bind("1")
	mustEvent(t, m.Events(), EventOpened)

	// Closing from the fake's side looks like a server-initiated close.
	require.NoError(t, dialer.last(t).Close("server gone"))

	ev := mustEvent(t, m.Events(), EventDisconnected)
	assert.Equal(t, gen, ev.Generation)
	assert.ErrorIs(t, ev.Err, core.ErrNetwork)
	assert.ErrorIs(t, ev.Err, errPeerClosed)

	require.Eventually(t, func() bool { return m.Status().State == StateClosed }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, m.Send(context.Background(), proto.TextPayload("x")), core.ErrNotConnected)
	assert.Len(t, dialer.dialed(), 1, "disconnect must not be retried")
}

func TestDialFailureReportsDisconnected(t *testing.T) {
	dialer := newFakeDialer()
	dialer.fail["1"] = core.NewNetworkError("dial", 403, nil)
	m := NewManager(dialer, time.Second, nil)

	gen := m.Bind("1")
	ev := mustEvent(t, m.Events(), EventDisconnected)
	assert.Equal(t, gen, ev.Generation)
	assert.ErrorIs(t, ev.Err, core.ErrNetwork)
}

func TestUnbindLeavesNothingOpen(t *testing.T) {
	dialer := newFakeDialer()
	m := NewManager(dialer, time.Second, nil)

	gen := m.Bind("1")
	mustEvent(t, m.Events(), EventOpened)
	conn := dialer.last(t)

	next := m.Unbind()
	assert.Equal(t, gen+1, next)
	assert.Equal(t, next, m.Status().Generation)

	st := m.Status()
	assert.Equal(t, StateClosed, st.State)
	assert.Empty(t, st.Channel)

	require.Eventually(t, conn.isClosed, time.Second, 5*time.Millisecond)
	assert.Equal(t, "leaving channel", conn.closeReason())
	require.Eventually(t, func() bool { return m.OpenCount() == 0 }, time.Second, 5*time.Millisecond)
	assertNoEvent(t, m.Events(), 50*time.Millisecond)
}

func TestCloseAllWaitsForConnections(t *testing.T) {
	dialer := newFakeDialer()
	m := NewManager(dialer, time.Second, nil)

	m.Bind("1")
	mustEvent(t, m.Events(), EventOpened)
	m.Bind("2")
	mustEvent(t, m.Events(), EventOpened)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.CloseAll(ctx))

	assert.Equal(t, 0, m.OpenCount())
	for _, conn := range dialer.dialed() {
		assert.True(t, conn.isClosed())
	}
	assert.ErrorIs(t, m.Send(context.Background(), proto.TextPayload("x")), core.ErrNotConnected)
}

func TestCloseAllCancelsPendingDial(t *testing.T) {
	dialer := newFakeDialer()
	release := dialer.hold("1")
	defer release()
	m := NewManager(dialer, 0, nil)

	m.Bind("1")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.CloseAll(ctx))
	assert.Empty(t, dialer.dialed())
}
