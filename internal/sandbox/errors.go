package sandbox

import (
	"errors"
	"fmt"
)

var (
	ErrPoolClosed = errors.New("sandbox pool is closed")
	ErrNotSettled = errors.New("script promise did not settle")
)

// ScriptError is an exception thrown, or a rejection produced, by a script.
// Message is the string form of the thrown value.
type ScriptError struct {
	Message string
}

func (e *ScriptError) Error() string {
	return e.Message
}

// InterruptedError reports a script stopped by cancellation or timeout.
type InterruptedError struct {
	Reason string
}

func (e *InterruptedError) Error() string {
	return fmt.Sprintf("script interrupted: %s", e.Reason)
}
