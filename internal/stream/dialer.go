package stream

import (
	"context"
	stdhttp "net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/wirechat-client/internal/core"
	"github.com/vovakirdan/wirechat-client/internal/proto"
)

// Conn is one streaming connection bound to a single channel.
type Conn interface {
	// Read blocks until the next inbound message or a close.
	Read(ctx context.Context) (core.Message, error)
	// Write sends one outbound payload.
	Write(ctx context.Context, payload proto.Payload) error
	// Close performs a normal close handshake.
	Close(reason string) error
}

// Dialer opens connections.
type Dialer interface {
	Dial(ctx context.Context, channel core.ChannelID) (Conn, error)
}

// WSDialer dials the chat socket endpoint with coder/websocket.
type WSDialer struct {
	url       func(core.ChannelID) string
	client    *stdhttp.Client
	readLimit int64
}

// NewWSDialer returns a dialer resolving endpoints with streamURL. client
// supplies the cookie jar and must not set a Timeout; pass nil for the
// default client. readLimit caps inbound frame size, 0 keeps the library default.
func NewWSDialer(streamURL func(core.ChannelID) string, client *stdhttp.Client, readLimit int64) *WSDialer {
	return &WSDialer{url: streamURL, client: client, readLimit: readLimit}
}

// Dial opens a socket for channel.
func (d *WSDialer) Dial(ctx context.Context, channel core.ChannelID) (Conn, error) {
	conn, resp, err := websocket.Dial(ctx, d.url(channel), &websocket.DialOptions{
		HTTPClient: d.client,
	})
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return nil, core.NewNetworkError("dial", status, err)
	}
	if d.readLimit > 0 {
		conn.SetReadLimit(d.readLimit)
	}
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) Read(ctx context.Context) (core.Message, error) {
	var msg proto.Message
	if err := wsjson.Read(ctx, c.conn, &msg); err != nil {
		return core.Message{}, err
	}
	return msg.ToCore(), nil
}

func (c *wsConn) Write(ctx context.Context, payload proto.Payload) error {
	return wsjson.Write(ctx, c.conn, payload)
}

func (c *wsConn) Close(reason string) error {
	return c.conn.Close(websocket.StatusNormalClosure, reason)
}
