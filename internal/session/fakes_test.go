package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vovakirdan/wirechat-client/internal/core"
	"github.com/vovakirdan/wirechat-client/internal/proto"
	"github.com/vovakirdan/wirechat-client/internal/stream"
)

type fakeService struct {
	mu       sync.Mutex
	list     []core.Channel
	byName   map[string]core.Channel
	nextID   int
	listErr  error
	joinErr  error
	leaveErr error
	left     []core.ChannelID
	joinGate chan struct{}
	joins    int
}

func newFakeService(names ...string) *fakeService {
	s := &fakeService{byName: make(map[string]core.Channel)}
	for _, name := range names {
		s.list = append(s.list, s.create(name))
	}
	return s
}

func (s *fakeService) create(name string) core.Channel {
	s.nextID++
	ch := core.Channel{ID: core.ChannelID(fmt.Sprint(s.nextID)), Name: name}
	s.byName[name] = ch
	return ch
}

func (s *fakeService) ListChannels(context.Context) ([]core.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	return append([]core.Channel(nil), s.list...), nil
}

// holdJoins blocks JoinChannel until the returned func is called.
func (s *fakeService) holdJoins() func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	gate := make(chan struct{})
	s.joinGate = gate
	return func() { close(gate) }
}

func (s *fakeService) joinCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joins
}

func (s *fakeService) JoinChannel(ctx context.Context, name string) (core.Channel, bool, error) {
	s.mu.Lock()
	s.joins++
	gate := s.joinGate
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return core.Channel{}, false, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.joinErr != nil {
		return core.Channel{}, false, s.joinErr
	}
	if ch, ok := s.byName[name]; ok {
		for _, joined := range s.list {
			if joined.ID == ch.ID {
				return ch, true, nil
			}
		}
		s.list = append(s.list, ch)
		return ch, false, nil
	}
	ch := s.create(name)
	s.list = append(s.list, ch)
	return ch, false, nil
}

func (s *fakeService) LeaveChannel(_ context.Context, id core.ChannelID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.leaveErr != nil {
		return s.leaveErr
	}
	s.left = append(s.left, id)
	for i, ch := range s.list {
		if ch.ID == id {
			s.list = append(s.list[:i], s.list[i+1:]...)
			break
		}
	}
	return nil
}

type fakeHistory struct {
	mu    sync.Mutex
	msgs  map[core.ChannelID][]core.Message
	errs  map[core.ChannelID]error
	gates map[core.ChannelID]chan struct{}
	calls []core.ChannelID
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{
		msgs:  make(map[core.ChannelID][]core.Message),
		errs:  make(map[core.ChannelID]error),
		gates: make(map[core.ChannelID]chan struct{}),
	}
}

func (h *fakeHistory) set(id core.ChannelID, texts ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	msgs := make([]core.Message, 0, len(texts))
	for i, text := range texts {
		msgs = append(msgs, core.Message{
			ID:        fmt.Sprintf("%s-%d", id, i),
			Author:    "bob",
			Text:      text,
			Timestamp: int64(i),
		})
	}
	h.msgs[id] = msgs
}

func (h *fakeHistory) fail(id core.ChannelID, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errs[id] = err
}

// hold blocks loads of id until the returned func is called.
func (h *fakeHistory) hold(id core.ChannelID) func() {
	gate := make(chan struct{})
	h.mu.Lock()
	h.gates[id] = gate
	h.mu.Unlock()
	return func() { close(gate) }
}

func (h *fakeHistory) Load(ctx context.Context, id core.ChannelID) ([]core.Message, error) {
	h.mu.Lock()
	h.calls = append(h.calls, id)
	gate := h.gates[id]
	h.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.errs[id]; err != nil {
		return nil, err
	}
	return append([]core.Message(nil), h.msgs[id]...), nil
}

func (h *fakeHistory) loads() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.calls)
}

type fakeConnector struct {
	mu       sync.Mutex
	gen      uint64
	bound    core.ChannelID
	binds    []core.ChannelID
	unbinds  int
	sent     []proto.Payload
	sendErr  error
	closeAll int
	events   chan stream.Event
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{events: make(chan stream.Event, 16)}
}

func (f *fakeConnector) Bind(id core.ChannelID) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gen++
	f.bound = id
	f.binds = append(f.binds, id)
	return f.gen
}

func (f *fakeConnector) Unbind() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gen++
	f.bound = ""
	f.unbinds++
	return f.gen
}

func (f *fakeConnector) Send(_ context.Context, payload proto.Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, payload)
	return nil
}

func (f *fakeConnector) Events() <-chan stream.Event {
	return f.events
}

func (f *fakeConnector) CloseAll(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeAll++
	f.bound = ""
	return nil
}

func (f *fakeConnector) current() (uint64, core.ChannelID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gen, f.bound
}

func (f *fakeConnector) bindCalls() []core.ChannelID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]core.ChannelID(nil), f.binds...)
}

// message pushes an inbound message tagged with generation gen.
func (f *fakeConnector) message(gen uint64, text string) {
	f.events <- stream.Event{
		Kind:       stream.EventMessage,
		Generation: gen,
		Message:    core.Message{ID: "live-" + text, Author: "carol", Text: text, Timestamp: 100},
	}
}

type recordingView struct {
	mu       sync.Mutex
	channels []core.Channel
	active   map[core.ChannelID]bool
	messages []core.Message
	visible  bool
	cleared  int
	notes    []error
	replaced int
}

func newRecordingView() *recordingView {
	return &recordingView{active: make(map[core.ChannelID]bool)}
}

func (v *recordingView) SetChannels(channels []core.Channel) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.channels = append([]core.Channel(nil), channels...)
}

func (v *recordingView) AddChannel(ch core.Channel) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.channels = append(v.channels, ch)
}

func (v *recordingView) RemoveChannel(id core.ChannelID) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i, ch := range v.channels {
		if ch.ID == id {
			v.channels = append(v.channels[:i], v.channels[i+1:]...)
			break
		}
	}
	delete(v.active, id)
}

func (v *recordingView) SetActive(id core.ChannelID, active bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if active {
		v.active[id] = true
		return
	}
	delete(v.active, id)
}

func (v *recordingView) ReplaceMessages(msgs []core.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.messages = append([]core.Message(nil), msgs...)
	v.replaced++
}

func (v *recordingView) AppendMessage(msg core.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.messages = append(v.messages, msg)
}

func (v *recordingView) ShowMessageArea(visible bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.visible = visible
}

func (v *recordingView) ClearComposer() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cleared++
}

func (v *recordingView) Notify(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.notes = append(v.notes, err)
}

func (v *recordingView) channelIDs() []core.ChannelID {
	v.mu.Lock()
	defer v.mu.Unlock()
	ids := make([]core.ChannelID, 0, len(v.channels))
	for _, ch := range v.channels {
		ids = append(ids, ch.ID)
	}
	return ids
}

func (v *recordingView) activeIDs() []core.ChannelID {
	v.mu.Lock()
	defer v.mu.Unlock()
	ids := make([]core.ChannelID, 0, len(v.active))
	for id := range v.active {
		ids = append(ids, id)
	}
	return ids
}

func (v *recordingView) texts() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]string, 0, len(v.messages))
	for _, msg := range v.messages {
		out = append(out, msg.Text)
	}
	return out
}

func (v *recordingView) isVisible() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.visible
}

func (v *recordingView) notifications() []error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]error(nil), v.notes...)
}

type harness struct {
	ctrl    *Controller
	service *fakeService
	history *fakeHistory
	conn    *fakeConnector
	view    *recordingView
	cancel  context.CancelFunc
	done    chan struct{}
}

func startHarness(t *testing.T, names ...string) *harness {
	t.Helper()

	h := &harness{
		service: newFakeService(names...),
		history: newFakeHistory(),
		conn:    newFakeConnector(),
		view:    newRecordingView(),
		done:    make(chan struct{}),
	}
	h.ctrl = New(h.service, h.history, h.conn, h.view, WithCloseTimeout(time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		defer close(h.done)
		_ = h.ctrl.Run(ctx)
	}()
	t.Cleanup(h.stop)
	return h
}

func (h *harness) stop() {
	h.cancel()
	<-h.done
}

func (h *harness) snapshot(t *testing.T) Snapshot {
	t.Helper()
	snap, err := h.ctrl.Snapshot(testContext(t))
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	return snap
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	return ctx
}
