package chattest

import (
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-client/internal/proto"
)

const xsrfCookieName = "_xsrf"

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

func (s *Server) routes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(s.log))
	router.Use(s.faultMiddleware())

	router.GET("/", s.index)
	router.GET("/channel", s.listChannels)
	router.POST("/channel", s.requireXSRF(), s.joinChannel)
	router.GET("/channel/:id", s.history)
	router.DELETE("/channel/:id", s.requireXSRF(), s.leaveChannel)
	router.GET("/chatsocket/:id", s.socket)

	return router
}

// LoggerMiddleware creates a middleware that logs HTTP requests.
func LoggerMiddleware(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Msg("http request")
	}
}

func (s *Server) faultMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if op, ok := opFor(c); ok && s.takeFailure(op) {
			c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{Error: "injected failure"})
			return
		}
		c.Next()
	}
}

func opFor(c *gin.Context) (Op, bool) {
	path := c.Request.URL.Path
	switch {
	case path == "/":
		return OpIndex, true
	case path == "/channel" && c.Request.Method == http.MethodGet:
		return OpList, true
	case path == "/channel" && c.Request.Method == http.MethodPost:
		return OpJoin, true
	case strings.HasPrefix(path, "/channel/") && c.Request.Method == http.MethodGet:
		return OpHistory, true
	case strings.HasPrefix(path, "/channel/") && c.Request.Method == http.MethodDelete:
		return OpLeave, true
	case strings.HasPrefix(path, "/chatsocket/"):
		return OpSocket, true
	}
	return "", false
}

// requireXSRF checks the anti-forgery token from the X-XSRFToken header or
// the _xsrf form field against the _xsrf cookie.
func (s *Server) requireXSRF() gin.HandlerFunc {
	return func(c *gin.Context) {
		cookie, err := c.Cookie(xsrfCookieName)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{Error: "'_xsrf' argument missing from POST"})
			return
		}

		presented := c.GetHeader(proto.HeaderXSRF)
		if presented == "" {
			presented = formValue(c, proto.FieldXSRF)
		}
		if err := s.xsrf.verify(cookie, presented); err != nil {
			s.log.Debug().Err(err).Msg("xsrf check failed")
			c.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{Error: "XSRF cookie does not match POST argument"})
			return
		}
		c.Next()
	}
}

// formValue reads a urlencoded body field for any method. net/http only
// parses bodies of POST, PUT and PATCH, so DELETE bodies are parsed here.
func formValue(c *gin.Context, key string) string {
	if c.Request.Method != http.MethodDelete {
		return c.PostForm(key)
	}
	if c.Request.Body == nil {
		return ""
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<16))
	if err != nil {
		return ""
	}
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return ""
	}
	return values.Get(key)
}

func (s *Server) index(c *gin.Context) {
	token, err := s.xsrf.issue()
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	c.SetCookie(xsrfCookieName, token, 3600, "/", "", false, false)
	c.String(http.StatusOK, "wirechat")
}

func (s *Server) listChannels(c *gin.Context) {
	s.mu.Lock()
	resp := proto.ChannelList{Channels: make([]proto.Channel, 0, len(s.joined))}
	for _, id := range s.joined {
		ch := s.channels[id]
		resp.Channels = append(resp.Channels, proto.Channel{ID: proto.ID(ch.id), Name: ch.name})
	}
	s.mu.Unlock()

	c.JSON(http.StatusOK, resp)
}

func (s *Server) joinChannel(c *gin.Context) {
	name := strings.TrimSpace(c.PostForm(proto.FieldChannel))
	if name == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "channel is required"})
		return
	}

	s.mu.Lock()
	ch, already := s.joinLocked(name)
	resp := proto.JoinResponse{
		Status: true,
		Channel: proto.JoinedChannel{
			ID:            proto.ID(ch.id),
			Name:          ch.name,
			AlreadyJoined: already,
		},
	}
	s.mu.Unlock()

	c.JSON(http.StatusOK, resp)
}

func (s *Server) history(c *gin.Context) {
	id := c.Param("id")

	s.mu.Lock()
	member := s.isMemberLocked(id)
	delay := s.historyDelay[id]
	s.mu.Unlock()

	if !member {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "Channel unavailable"})
		return
	}

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-c.Request.Context().Done():
			return
		}
	}

	s.mu.Lock()
	resp := proto.History{Messages: s.historyLocked(id), Channel: proto.ID(id)}
	s.mu.Unlock()

	c.JSON(http.StatusOK, resp)
}

func (s *Server) leaveChannel(c *gin.Context) {
	id := c.Param("id")

	s.mu.Lock()
	left := s.leaveLocked(id)
	s.mu.Unlock()

	if !left {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "channel not found"})
		return
	}
	c.JSON(http.StatusOK, proto.StatusResponse{Status: true})
}
