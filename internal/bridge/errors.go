package bridge

import (
	"errors"
	"fmt"
	"time"

	"github.com/GriffinCanCode/pluginbridge/internal/ws/client"
)

// ErrNotReady is returned by CallRemote before any executor has announced
// itself.
var ErrNotReady = errors.New("no executor has announced readiness")

// TimeoutError reports a call that got no response within its deadline.
type TimeoutError struct {
	RunID   string
	Timeout time.Duration
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("remote call %s timed out after %s (timeout %s)", e.RunID, e.Elapsed.Round(time.Millisecond), e.Timeout)
}

// RemoteExecutionError carries the message of an exception thrown by the
// remote code, unchanged.
type RemoteExecutionError struct {
	RunID   string
	Message string
}

func (e *RemoteExecutionError) Error() string {
	return fmt.Sprintf("remote call %s failed: %s", e.RunID, e.Message)
}

// IsTransportFailure reports whether err means the executor could not be
// reached or did not answer, as opposed to the remote code failing.
func IsTransportFailure(err error) bool {
	var timeout *TimeoutError
	var conn *client.ConnectionError
	return errors.As(err, &timeout) || errors.As(err, &conn)
}
