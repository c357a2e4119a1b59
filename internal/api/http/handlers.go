package http

import (
	"net/http"

	"github.com/GriffinCanCode/pluginbridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/pluginbridge/internal/shared/types"
	"github.com/gin-gonic/gin"
)

// Relay is the hub state the handlers report on. *ws.Hub implements it.
type Relay interface {
	Rooms() map[string][]string
	AllowedRooms() []string
	Count() int
	Closed() bool
}

// Handlers serves the relay's HTTP status endpoints.
type Handlers struct {
	relay   Relay
	metrics *monitoring.Metrics
}

// NewHandlers creates the status handlers. metrics may be nil.
func NewHandlers(relay Relay, metrics *monitoring.Metrics) *Handlers {
	return &Handlers{relay: relay, metrics: metrics}
}

// Root identifies the service.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "pluginbridge relay",
		"relay":   "/relay",
	})
}

// Health reports whether the relay accepts connections. A draining relay
// answers 503.
func (h *Handlers) Health(c *gin.Context) {
	health := types.Health{
		Status:      "ok",
		Connections: h.relay.Count(),
		Rooms:       h.relay.AllowedRooms(),
		Uptime:      h.metrics.Uptime().Seconds(),
	}
	if h.relay.Closed() {
		health.Status = "draining"
		c.JSON(http.StatusServiceUnavailable, health)
		return
	}
	c.JSON(http.StatusOK, health)
}

// Rooms lists current membership by room.
func (h *Handlers) Rooms(c *gin.Context) {
	rooms := h.relay.Rooms()
	total := 0
	for _, members := range rooms {
		total += len(members)
	}
	c.JSON(http.StatusOK, types.RoomState{Rooms: rooms, Total: total})
}

// Stats returns the JSON metrics snapshot.
func (h *Handlers) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"uptimeSeconds": h.metrics.Uptime().Seconds(),
		"relay":         h.metrics.Snapshot(),
	})
}
