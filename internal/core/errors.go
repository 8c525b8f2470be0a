package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means an operation referenced a channel the directory does not hold.
	ErrNotFound = errors.New("channel not found")
	// ErrNotConnected means a send was attempted without an open connection.
	ErrNotConnected = errors.New("not connected")
	// ErrStale marks a result that arrived after being superseded. Never shown to the user.
	ErrStale = errors.New("stale result")
	// ErrNetwork matches every *NetworkError via errors.Is.
	ErrNetwork = errors.New("network error")
	// ErrEmptyMessage is returned when asked to send blank text.
	ErrEmptyMessage = errors.New("empty message")
	// ErrStopped is returned when the session loop is no longer running.
	ErrStopped = errors.New("session stopped")
)

// NetworkError describes a failed server-facing call: transport failure,
// undecodable body, or non-success status.
type NetworkError struct {
	Op     string
	Status int // HTTP status, 0 when the request never completed
	Err    error
}

func (e *NetworkError) Error() string {
	switch {
	case e.Status != 0 && e.Err != nil:
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.Status, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("%s: status %d", e.Op, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return e.Op + ": network error"
	}
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrNetwork) true for any NetworkError.
func (e *NetworkError) Is(target error) bool {
	return target == ErrNetwork
}

// NewNetworkError wraps err as a NetworkError for op.
func NewNetworkError(op string, status int, err error) *NetworkError {
	return &NetworkError{Op: op, Status: status, Err: err}
}

// NotFound wraps ErrNotFound with the offending id.
func NotFound(id ChannelID) error {
	return fmt.Errorf("%w: %q", ErrNotFound, string(id))
}
