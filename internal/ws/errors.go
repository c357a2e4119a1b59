package ws

import (
	"errors"
	"fmt"
)

var (
	ErrHubClosed    = errors.New("relay is shutting down")
	errMissingEvent = errors.New("missing event name")
)

// MalformedEnvelopeError describes a frame the relay could not route.
// It is logged and counted, never sent to other connections.
type MalformedEnvelopeError struct {
	ConnectionID string
	Room         string
	Err          error
}

func (e *MalformedEnvelopeError) Error() string {
	return fmt.Sprintf("malformed envelope from %s (%s): %v", e.ConnectionID, e.Room, e.Err)
}

func (e *MalformedEnvelopeError) Unwrap() error {
	return e.Err
}

// RoomError rejects a handshake claiming a room outside the allow-list.
type RoomError struct {
	Room string
}

func (e *RoomError) Error() string {
	if e.Room == "" {
		return "no room claimed"
	}
	return fmt.Sprintf("unknown room %q", e.Room)
}
