package types

import "time"

// Rooms known to the relay. A connection claims exactly one at handshake.
const (
	RoomSandbox      = "sandbox"
	RoomHarness      = "harness"
	RoomBuildWatcher = "build-watcher"
	RoomObserver     = "observer"
)

// DefaultRooms lists the rooms a relay accepts unless configured otherwise.
func DefaultRooms() []string {
	return []string{RoomSandbox, RoomHarness, RoomBuildWatcher, RoomObserver}
}

// Event names carried in Envelope.Event.
const (
	EventExecuteRequest = "EXECUTE_REQUEST"
	EventExecuteResult  = "EXECUTE_RESULT"
	EventExecuteError   = "EXECUTE_ERROR"
	EventCancelRequest  = "CANCEL_REQUEST"
	EventRoomState      = "ROOM_STATE"
	EventReadyProbe     = "READY_PROBE"
	EventExecutorReady  = "EXECUTOR_READY"
	EventBuildComplete  = "BUILD_COMPLETE"
)

// RoomState is broadcast whenever membership changes.
type RoomState struct {
	Rooms map[string][]string `json:"rooms"`
	Total int                 `json:"total"`
}

// ReadyNotice announces that an executor accepts requests.
type ReadyNotice struct {
	ExecutorID string `json:"executorId"`
	PoolSize   int    `json:"poolSize"`
	// Generation counts runtime resets since the executor started.
	Generation uint64 `json:"generation"`
}

// BuildNotice reports a finished rebuild of the plugin bundle.
type BuildNotice struct {
	Files []string  `json:"files"`
	At    time.Time `json:"at"`
}

// Options is the bag handed to every orchestrated task.
type Options struct {
	Debug   bool   `json:"debug"`
	Port    int    `json:"port"`
	Command string `json:"command"`
}

// Health is served by the relay's /health endpoint.
type Health struct {
	Status      string   `json:"status"`
	Connections int      `json:"connections"`
	Rooms       []string `json:"rooms"`
	Uptime      float64  `json:"uptimeSeconds"`
}

// Healthy reports whether the relay accepts connections.
func (h Health) Healthy() bool {
	return h.Status == "ok"
}
