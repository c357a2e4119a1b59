package sandbox

import (
	"context"
	"time"
)

// Capability names, in the order they are bound as parameters of the
// function built from a script.
const (
	CapConsole  = "console"
	CapClock    = "clock"
	CapDocument = "document"
)

// Capabilities lists every name a script can see besides the language
// built-ins.
func Capabilities() []string {
	return []string{CapConsole, CapClock, CapDocument}
}

// Config defines sandbox configuration
type Config struct {
	Timeout          time.Duration // Execution timeout, zero for none
	MaxCallStackSize int
	Now              func() time.Time // Backs clock.now()
}

// Result holds execution result
type Result struct {
	Value    interface{}   // Settled value of the script
	Console  []LogEntry    // Console output
	Changes  []Change      // Document modifications
	Duration time.Duration // Execution time
}

// LogEntry represents console output
type LogEntry struct {
	Level   string // log, info, warn, error
	Message string
	Time    time.Time
}

// Change represents a document modification
type Change struct {
	Type     string      `json:"type"` // create, remove, set
	NodeID   int         `json:"nodeId"`
	Property string      `json:"property,omitempty"`
	Value    interface{} `json:"value,omitempty"`
}

// Executor runs scripts. *Runtime and *Pool implement it.
type Executor interface {
	Execute(ctx context.Context, source string, doc *Document) (*Result, error)
}

// DefaultConfig returns the default sandbox configuration.
func DefaultConfig() Config {
	return Config{
		Timeout:          30 * time.Second,
		MaxCallStackSize: 1024,
		Now:              time.Now,
	}
}
