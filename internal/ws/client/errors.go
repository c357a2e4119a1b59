package client

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by operations on a closed client.
var ErrClosed = errors.New("relay client closed")

// ConnectionError reports that the relay could not be reached.
type ConnectionError struct {
	Op       string // "dial" or "emit"
	Event    string
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	if e.Op == "emit" {
		return fmt.Sprintf("emit %s: relay unreachable after %d attempts: %v", e.Event, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s relay: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
