package stream

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingToken means no access token was available to connect with.
	ErrMissingToken = errors.New("missing access token")

	// ErrReconnectExhausted means the retry budget ran out.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

	// ErrNotConnected is returned when sending without a live connection.
	ErrNotConnected = errors.New("stream not connected")

	// ErrClosed is returned by a torn down manager.
	ErrClosed = errors.New("stream manager closed")

	// ErrInvalidEnvelope is returned for frames that are not envelopes.
	ErrInvalidEnvelope = errors.New("invalid envelope")
)

// ConnectionError is a connection failure the caller has to act on: a
// missing credential or an exhausted retry budget. Transient dial and read
// errors are reported through OnError as they are.
type ConnectionError struct {
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("stream connection failed after %d attempts: %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("stream connection failed: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Terminal reports whether the manager stopped reconnecting.
func (e *ConnectionError) Terminal() bool {
	return errors.Is(e.Err, ErrReconnectExhausted)
}
