package proto

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vovakirdan/wirechat-client/internal/core"
)

const (
	// FieldMessage is the outbound payload field carrying chat text.
	FieldMessage = "message"
	// FieldChannel is the join form field naming the channel.
	FieldChannel = "channel"
	// FieldXSRF is the form field carrying the anti-forgery token.
	FieldXSRF = "_xsrf"
	// HeaderXSRF carries the same token for requests whose body servers may not parse.
	HeaderXSRF = "X-XSRFToken"
)

// ID is an identifier that the server may encode either as a JSON number or a string.
type ID string

// UnmarshalJSON accepts 17, "17" and null.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// Channel is a channel entry as returned by the channel list service.
type Channel struct {
	ID   ID     `json:"id"`
	Name string `json:"name"`
}

// JoinedChannel is the channel part of a join response.
type JoinedChannel struct {
	ID            ID     `json:"id"`
	Name          string `json:"name"`
	AlreadyJoined bool   `json:"already_joined"`
}

// ChannelList is the body of GET /channel.
type ChannelList struct {
	Channels []Channel `json:"channels"`
}

// JoinResponse is the body of POST /channel.
type JoinResponse struct {
	Status  bool          `json:"status"`
	Channel JoinedChannel `json:"channel"`
}

// StatusResponse is the body of DELETE /channel/{id}.
type StatusResponse struct {
	Status bool `json:"status"`
}

// History is the body of GET /channel/{id}.
type History struct {
	Messages []Message `json:"messages"`
	Channel  ID        `json:"channel"`
}

// Message is a chat message on the wire, both in history and on the socket.
// A null user marks a system message.
type Message struct {
	ID        ID      `json:"id"`
	User      *string `json:"user"`
	Text      string  `json:"text"`
	Timestamp int64   `json:"timestamp"`
}

// Payload is an outbound socket frame: a field-value mapping.
type Payload map[string]string

// TextPayload builds the payload for a chat line.
func TextPayload(text string) Payload {
	return Payload{FieldMessage: text}
}

// Text returns the chat text carried by the payload.
func (p Payload) Text() string {
	return p[FieldMessage]
}

// ToCore converts a wire channel to the domain model.
func (c Channel) ToCore() core.Channel {
	return core.Channel{ID: core.ChannelID(c.ID), Name: c.Name}
}

// ToCore converts the joined channel to the domain model.
func (c JoinedChannel) ToCore() core.Channel {
	return core.Channel{ID: core.ChannelID(c.ID), Name: c.Name}
}

// ToCore converts a wire message to the domain model.
func (m Message) ToCore() core.Message {
	msg := core.Message{
		ID:        string(m.ID),
		Text:      m.Text,
		Timestamp: m.Timestamp,
	}
	if m.User != nil {
		msg.Author = strings.TrimSpace(*m.User)
	}
	return msg
}

// FromCore converts a domain message to its wire form.
func FromCore(m core.Message) Message {
	msg := Message{
		ID:        ID(m.ID),
		Text:      m.Text,
		Timestamp: m.Timestamp,
	}
	if !m.IsSystem() {
		author := m.Author
		msg.User = &author
	}
	return msg
}

// MessagesToCore converts a slice of wire messages.
func MessagesToCore(in []Message) []core.Message {
	out := make([]core.Message, 0, len(in))
	for _, m := range in {
		out = append(out, m.ToCore())
	}
	return out
}
