// Package http is the REST side of the chat protocol: the channel list
// service (list, join, leave) and the history service. It also owns the
// cookie jar shared with the socket dialer, which carries the session
// credential and the anti-forgery token.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	stdhttp "net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/publicsuffix"

	"github.com/vovakirdan/wirechat-client/internal/config"
	"github.com/vovakirdan/wirechat-client/internal/core"
	wlog "github.com/vovakirdan/wirechat-client/internal/log"
	"github.com/vovakirdan/wirechat-client/internal/proto"
)

var (
	// ErrEmptyChannelName is returned by JoinChannel for a blank name.
	ErrEmptyChannelName = errors.New("channel name is required")
	// ErrNoXSRFToken means the server never handed out an anti-forgery cookie.
	ErrNoXSRFToken = errors.New("no xsrf token available")
	// ErrRejected means the server answered 200 but reported failure in the body.
	ErrRejected = errors.New("server rejected request")
)

// Client talks to the channel list and history services.
type Client struct {
	base           *url.URL
	http           *stdhttp.Client
	xsrfCookie     string
	requestTimeout time.Duration
	log            *zerolog.Logger
}

// NewClient builds a client for cfg.ServerURL. The session cookie, if
// configured, is installed in the jar before any request is made.
func NewClient(cfg config.Config, logger *zerolog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	base, err := url.Parse(cfg.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	if cfg.SessionCookie != "" {
		jar.SetCookies(base, []*stdhttp.Cookie{{
			Name:  cfg.SessionCookieName,
			Value: cfg.SessionCookie,
			Path:  "/",
		}})
	}

	return &Client{
		base: base,
		// No Client.Timeout: the same client dials sockets, which must
		// outlive a single request. Timeouts are applied per call instead.
		http:           &stdhttp.Client{Jar: jar},
		xsrfCookie:     cfg.XSRFCookieName,
		requestTimeout: cfg.RequestTimeout,
		log:            wlog.OrNop(logger),
	}, nil
}

// HTTPClient returns the underlying client, sharing the cookie jar.
func (c *Client) HTTPClient() *stdhttp.Client {
	return c.http
}

// StreamURL returns the socket endpoint for channel id.
func (c *Client) StreamURL(id core.ChannelID) string {
	u := c.base.JoinPath("chatsocket", string(id))
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.String()
}

// ListChannels returns the channels the user has joined, in server order.
func (c *Client) ListChannels(ctx context.Context) ([]core.Channel, error) {
	var resp proto.ChannelList
	if err := c.do(ctx, "list channels", stdhttp.MethodGet, c.base.JoinPath("channel"), nil, &resp); err != nil {
		return nil, err
	}

	channels := make([]core.Channel, 0, len(resp.Channels))
	for _, ch := range resp.Channels {
		channels = append(channels, ch.ToCore())
	}
	return channels, nil
}

// JoinChannel joins (creating if needed) the channel called name.
// alreadyJoined reports that the user was a member before the call.
func (c *Client) JoinChannel(ctx context.Context, name string) (ch core.Channel, alreadyJoined bool, err error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return core.Channel{}, false, ErrEmptyChannelName
	}

	token, err := c.XSRFToken(ctx)
	if err != nil {
		return core.Channel{}, false, err
	}

	form := url.Values{}
	form.Set(proto.FieldChannel, name)
	form.Set(proto.FieldXSRF, token)

	var resp proto.JoinResponse
	if err := c.do(ctx, "join channel", stdhttp.MethodPost, c.base.JoinPath("channel"), form, &resp); err != nil {
		return core.Channel{}, false, err
	}
	if !resp.Status || resp.Channel.ID == "" {
		return core.Channel{}, false, core.NewNetworkError("join channel", stdhttp.StatusOK, ErrRejected)
	}
	return resp.Channel.ToCore(), resp.Channel.AlreadyJoined, nil
}

// LeaveChannel leaves channel id. The request carries the anti-forgery token.
func (c *Client) LeaveChannel(ctx context.Context, id core.ChannelID) error {
	token, err := c.XSRFToken(ctx)
	if err != nil {
		return err
	}

	form := url.Values{}
	form.Set(proto.FieldXSRF, token)

	var resp proto.StatusResponse
	if err := c.do(ctx, "leave channel", stdhttp.MethodDelete, c.base.JoinPath("channel", string(id)), form, &resp); err != nil {
		return err
	}
	if !resp.Status {
		return core.NewNetworkError("leave channel", stdhttp.StatusOK, ErrRejected)
	}
	return nil
}

// History fetches the message backlog of channel id.
func (c *Client) History(ctx context.Context, id core.ChannelID) ([]core.Message, error) {
	var resp proto.History
	if err := c.do(ctx, "history", stdhttp.MethodGet, c.base.JoinPath("channel", string(id)), nil, &resp); err != nil {
		return nil, err
	}
	return proto.MessagesToCore(resp.Messages), nil
}

// XSRFToken returns the anti-forgery token from the cookie jar, loading the
// index page once to obtain it if the jar has none yet.
func (c *Client) XSRFToken(ctx context.Context) (string, error) {
	if token, ok := c.cookie(c.xsrfCookie); ok {
		return token, nil
	}

	if err := c.do(ctx, "xsrf", stdhttp.MethodGet, c.base.JoinPath("/"), nil, nil); err != nil {
		return "", err
	}
	if token, ok := c.cookie(c.xsrfCookie); ok {
		return token, nil
	}
	return "", core.NewNetworkError("xsrf", 0, ErrNoXSRFToken)
}

func (c *Client) cookie(name string) (string, bool) {
	for _, ck := range c.http.Jar.Cookies(c.base) {
		if ck.Name != name || ck.Value == "" {
			continue
		}
		if decoded, err := url.QueryUnescape(ck.Value); err == nil {
			return decoded, true
		}
		return ck.Value, true
	}
	return "", false
}

func (c *Client) do(ctx context.Context, op, method string, target *url.URL, form url.Values, out any) error {
	if c.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := stdhttp.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return core.NewNetworkError(op, 0, err)
	}
	req.Header.Set("Accept", "application/json")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		if token := form.Get(proto.FieldXSRF); token != "" {
			req.Header.Set(proto.HeaderXSRF, token)
		}
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Str("op", op).Msg("request failed")
		return core.NewNetworkError(op, 0, err)
	}
	defer resp.Body.Close()

	c.log.Debug().
		Str("op", op).
		Str("method", method).
		Str("path", target.Path).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(started)).
		Msg("request done")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
		c.log.Warn().Str("op", op).Int("status", resp.StatusCode).Msg("unexpected status")
		return core.NewNetworkError(op, resp.StatusCode, nil)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return core.NewNetworkError(op, resp.StatusCode, fmt.Errorf("decode body: %w", err))
	}
	return nil
}
