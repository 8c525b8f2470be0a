package stream

import "github.com/vovakirdan/wirechat-client/internal/core"

// State is the lifecycle state of one connection.
type State int

const (
	// StateConnecting means the handshake is in flight.
	StateConnecting State = iota
	// StateOpen means the connection can send and receive.
	StateOpen
	// StateClosing means the connection was retired and its close has begun.
	StateClosing
	// StateClosed is terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// EventKind is what happened on a connection.
type EventKind int

const (
	// EventOpened reports a completed handshake.
	EventOpened EventKind = iota
	// EventMessage delivers one inbound chat message.
	EventMessage
	// EventDisconnected reports a close the client did not ask for: a failed
	// dial or a server-initiated close. It is not retried.
	EventDisconnected
)

func (k EventKind) String() string {
	switch k {
	case EventOpened:
		return "opened"
	case EventMessage:
		return "message"
	case EventDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Event is emitted by the Manager. Generation identifies the Bind that
// created the connection; consumers drop events whose generation is not
// the one they last obtained from Bind or Unbind.
type Event struct {
	Kind       EventKind
	Generation uint64
	Channel    core.ChannelID
	Message    core.Message // EventMessage only
	Err        error        // EventDisconnected only
}
