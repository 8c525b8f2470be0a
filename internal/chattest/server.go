// Package chattest runs an in-memory chat server that speaks the same HTTP and
// socket protocol as the production server, for use in tests. It keeps the
// membership of a single user and supports fault injection (slow history,
// failing calls, server-side socket drops).
package chattest

import (
	"net/http/httptest"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-client/internal/core"
	"github.com/vovakirdan/wirechat-client/internal/proto"
)

// Op names a server operation for fault injection.
type Op string

const (
	OpIndex   Op = "index"
	OpList    Op = "list"
	OpJoin    Op = "join"
	OpLeave   Op = "leave"
	OpHistory Op = "history"
	OpSocket  Op = "socket"
)

// Server is a running fake chat server.
type Server struct {
	// URL is the base http URL of the server.
	URL string

	ts     *httptest.Server
	log    *zerolog.Logger
	xsrf   *xsrfSigner
	user   string
	router *gin.Engine

	mu           sync.Mutex
	nextID       int
	channels     map[string]*channel
	byName       map[string]string
	joined       []string
	historyDelay map[string]time.Duration
	failures     map[Op]int
	subs         map[string]map[*subscriber]struct{}
	accepted     map[string]int
	received     []proto.Payload
}

type channel struct {
	id       string
	name     string
	messages []proto.Message
}

// Option configures a Server.
type Option func(*Server)

// WithUser sets the name the server attributes socket messages to.
func WithUser(name string) Option {
	return func(s *Server) { s.user = name }
}

// WithLogger routes request logs to logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(s *Server) { s.log = logger }
}

// NewServer starts a fake server. Call Close when done.
func NewServer(opts ...Option) *Server {
	gin.SetMode(gin.TestMode)

	nop := zerolog.Nop()
	s := &Server{
		log:          &nop,
		xsrf:         newXSRFSigner(),
		user:         "tester",
		channels:     make(map[string]*channel),
		byName:       make(map[string]string),
		historyDelay: make(map[string]time.Duration),
		failures:     make(map[Op]int),
		subs:         make(map[string]map[*subscriber]struct{}),
		accepted:     make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.router = s.routes()
	s.ts = httptest.NewServer(s.router)
	s.URL = s.ts.URL
	return s
}

// Close drops every socket and stops the server.
func (s *Server) Close() {
	s.mu.Lock()
	var all []*subscriber
	for _, set := range s.subs {
		for sub := range set {
			all = append(all, sub)
		}
	}
	s.mu.Unlock()

	for _, sub := range all {
		sub.drop(websocket.StatusGoingAway, "server shutdown")
	}
	s.ts.Close()
}

// Seed joins the user to the named channels, in order, and returns their ids.
func (s *Server) Seed(names ...string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(names))
	for _, name := range names {
		ch, _ := s.joinLocked(name)
		ids = append(ids, ch.id)
	}
	return ids
}

// Publish appends a message to channel id and pushes it to open sockets.
// An empty user makes it a system message.
func (s *Server) Publish(id, user, text string) proto.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.publishLocked(id, user, text)
}

// SetHistoryDelay makes GET /channel/{id} wait d before answering.
func (s *Server) SetHistoryDelay(id string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.historyDelay[id] = d
}

// FailNext makes the next n calls of op answer 500.
func (s *Server) FailNext(op Op, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] += n
}

// DropSockets closes every socket bound to channel id from the server side.
func (s *Server) DropSockets(id string) {
	s.mu.Lock()
	var subs []*subscriber
	for sub := range s.subs[id] {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.drop(websocket.StatusGoingAway, "server dropped connection")
	}
}

// OpenSockets returns the number of sockets currently bound to channel id.
func (s *Server) OpenSockets(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs[id])
}

// TotalOpenSockets returns the number of sockets open across all channels.
func (s *Server) TotalOpenSockets() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for _, set := range s.subs {
		total += len(set)
	}
	return total
}

// AcceptedSockets returns how many sockets were ever accepted for channel id.
func (s *Server) AcceptedSockets(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted[id]
}

// Joined returns the ids the user is a member of, in join order.
func (s *Server) Joined() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.joined...)
}

// Messages returns the stored history of channel id.
func (s *Server) Messages(id string) []proto.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.channels[id]
	if !ok {
		return nil
	}
	return append([]proto.Message(nil), ch.messages...)
}

// Received returns every payload received over sockets.
func (s *Server) Received() []proto.Payload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]proto.Payload(nil), s.received...)
}

func (s *Server) takeFailure(op Op) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failures[op] <= 0 {
		return false
	}
	s.failures[op]--
	return true
}

func (s *Server) joinLocked(name string) (*channel, bool) {
	id, exists := s.byName[name]
	if !exists {
		s.nextID++
		id = strconv.Itoa(s.nextID)
		s.channels[id] = &channel{id: id, name: name}
		s.byName[name] = id
	}
	ch := s.channels[id]

	if s.isMemberLocked(id) {
		return ch, true
	}
	s.joined = append(s.joined, id)
	s.publishLocked(id, "", s.user+" has subscribed to the channel")
	return ch, false
}

func (s *Server) leaveLocked(id string) bool {
	for i, joined := range s.joined {
		if joined == id {
			s.joined = append(s.joined[:i], s.joined[i+1:]...)
			s.publishLocked(id, "", s.user+" has unsubscribed from the channel")
			return true
		}
	}
	return false
}

func (s *Server) isMemberLocked(id string) bool {
	for _, joined := range s.joined {
		if joined == id {
			return true
		}
	}
	return false
}

func (s *Server) publishLocked(id, user, text string) proto.Message {
	ch, ok := s.channels[id]
	if !ok {
		return proto.Message{}
	}

	msg := proto.FromCore(core.Message{
		ID:        uuid.NewString(),
		Author:    user,
		Text:      text,
		Timestamp: time.Now().Unix(),
	})
	ch.messages = append(ch.messages, msg)

	for sub := range s.subs[id] {
		sub.deliver(msg)
	}
	return msg
}

func (s *Server) historyLocked(id string) []proto.Message {
	ch := s.channels[id]
	out := append([]proto.Message{}, ch.messages...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}
