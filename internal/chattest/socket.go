package chattest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"

	"github.com/vovakirdan/wirechat-client/internal/proto"
)

// subscriber is one accepted socket bound to a channel.
type subscriber struct {
	channel string
	conn    *websocket.Conn
	send    chan proto.Message

	once   sync.Once
	cancel context.CancelFunc
}

// deliver queues msg without blocking; slow sockets drop messages.
func (sub *subscriber) deliver(msg proto.Message) {
	select {
	case sub.send <- msg:
	default:
	}
}

func (sub *subscriber) drop(status websocket.StatusCode, reason string) {
	sub.once.Do(func() {
		_ = sub.conn.Close(status, reason)
		sub.cancel()
	})
}

func (s *Server) socket(c *gin.Context) {
	id := c.Param("id")

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.log.Error().Err(err).Msg("ws accept error")
		return
	}

	s.mu.Lock()
	member := s.isMemberLocked(id)
	s.mu.Unlock()
	if !member {
		conn.Close(websocket.StatusPolicyViolation, "Channel unavailable")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	sub := &subscriber{
		channel: id,
		conn:    conn,
		send:    make(chan proto.Message, 64),
		cancel:  cancel,
	}
	s.register(sub)
	defer s.unregister(sub)

	errCh := make(chan error, 2)
	go func() {
		errCh <- s.readLoop(ctx, sub)
	}()
	go func() {
		errCh <- s.writeLoop(ctx, sub)
	}()

	err = <-errCh
	cancel()
	<-errCh

	status := websocket.CloseStatus(err)
	if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
		sub.drop(websocket.StatusNormalClosure, "closing")
		return
	}
	s.log.Debug().Err(err).Str("channel_id", id).Msg("ws connection closed with error")
	sub.drop(websocket.StatusInternalError, "internal error")
}

func (s *Server) register(sub *subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.subs[sub.channel]
	if !ok {
		set = make(map[*subscriber]struct{})
		s.subs[sub.channel] = set
	}
	set[sub] = struct{}{}
	s.accepted[sub.channel]++
}

func (s *Server) unregister(sub *subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.subs[sub.channel], sub)
}

func (s *Server) readLoop(ctx context.Context, sub *subscriber) error {
	for {
		var payload proto.Payload
		if err := wsjson.Read(ctx, sub.conn, &payload); err != nil {
			return err
		}

		s.mu.Lock()
		s.received = append(s.received, payload)
		text := strings.TrimSpace(payload.Text())
		if text != "" {
			s.publishLocked(sub.channel, s.user, text)
		}
		s.mu.Unlock()
	}
}

func (s *Server) writeLoop(ctx context.Context, sub *subscriber) error {
	for {
		select {
		case msg := <-sub.send:
			if err := wsjson.Write(ctx, sub.conn, msg); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
