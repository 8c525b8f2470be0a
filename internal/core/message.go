package core

import "time"

// Message is a chat line as received from the server. Immutable once received.
type Message struct {
	ID string
	// Author is empty for system messages (joins, leaves).
	Author    string
	Text      string
	Timestamp int64 // seconds since epoch
}

// IsSystem reports whether the message has no author.
func (m Message) IsSystem() bool {
	return m.Author == ""
}

// Time converts the timestamp to a time.Time in the local zone.
func (m Message) Time() time.Time {
	return time.Unix(m.Timestamp, 0)
}
