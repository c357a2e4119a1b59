package ws

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GriffinCanCode/pluginbridge/internal/domain/room"
	"github.com/GriffinCanCode/pluginbridge/internal/infrastructure/logging"
	"github.com/GriffinCanCode/pluginbridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/pluginbridge/internal/shared/types"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// RoomHeader carries the role claim when the query parameter is absent.
const RoomHeader = "X-Relay-Room"

// Config controls hub behavior.
type Config struct {
	Rooms           []string
	PingInterval    time.Duration
	MaxMessageBytes int64
	SendQueue       int
	WriteTimeout    time.Duration
}

// DefaultConfig returns the relay defaults.
func DefaultConfig() Config {
	return Config{
		Rooms:           types.DefaultRooms(),
		PingInterval:    10 * time.Second,
		MaxMessageBytes: 4 << 20,
		SendQueue:       256,
		WriteTimeout:    5 * time.Second,
	}
}

// Hub is the relay server. It owns the room registry; every membership
// change and every target resolution happens under mu.
type Hub struct {
	cfg      Config
	allowed  map[string]struct{}
	upgrader websocket.Upgrader
	logger   *logging.Logger
	metrics  *monitoring.Metrics

	mu       sync.Mutex
	registry *room.Registry
	peers    map[string]*peer
	closed   bool

	wg sync.WaitGroup
}

type peer struct {
	id    string
	room  string
	conn  *websocket.Conn
	send  chan []byte
	alive atomic.Bool

	closeOnce sync.Once
	done      chan struct{}
}

func (p *peer) close() {
	p.closeOnce.Do(func() {
		close(p.done)
		p.conn.Close()
	})
}

// NewHub creates a relay hub. metrics may be nil.
func NewHub(cfg Config, logger *logging.Logger, metrics *monitoring.Metrics) *Hub {
	defaults := DefaultConfig()
	if len(cfg.Rooms) == 0 {
		cfg.Rooms = defaults.Rooms
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaults.PingInterval
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = defaults.MaxMessageBytes
	}
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = defaults.SendQueue
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}

	allowed := make(map[string]struct{}, len(cfg.Rooms))
	for _, r := range cfg.Rooms {
		allowed[r] = struct{}{}
	}

	return &Hub{
		cfg:     cfg,
		allowed: allowed,
		upgrader: websocket.Upgrader{
			// Origin policy is enforced by the CORS middleware in front of the hub.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:   logger.Named("relay"),
		metrics:  metrics,
		registry: room.NewRegistry(),
		peers:    make(map[string]*peer),
	}
}

// HandleConnection upgrades a gin request to a relay connection.
func (h *Hub) HandleConnection(c *gin.Context) {
	h.ServeHTTP(c.Writer, c.Request)
}

// ServeHTTP reads the room claim, upgrades the connection and serves it
// until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	roomName := ClaimedRoom(r)
	if !h.Allowed(roomName) {
		h.logger.Warn("rejected handshake", zap.String("room", roomName), zap.String("remote", r.RemoteAddr))
		http.Error(w, (&RoomError{Room: roomName}).Error(), http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		http.Error(w, ErrHubClosed.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	p := &peer{
		id:   uuid.NewString(),
		room: roomName,
		conn: conn,
		send: make(chan []byte, h.cfg.SendQueue),
		done: make(chan struct{}),
	}
	p.alive.Store(true)

	if !h.join(p) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ErrHubClosed.Error()),
			time.Now().Add(h.cfg.WriteTimeout))
		conn.Close()
		return
	}

	go func() {
		defer h.wg.Done()
		h.writePump(p)
	}()

	defer h.wg.Done()
	h.readPump(p)
	h.leave(p)
}

// ClaimedRoom returns the role claimed by a handshake request.
func ClaimedRoom(r *http.Request) string {
	if name := r.URL.Query().Get("room"); name != "" {
		return name
	}
	return r.Header.Get(RoomHeader)
}

// Allowed reports whether connections may claim name.
func (h *Hub) Allowed(name string) bool {
	_, ok := h.allowed[name]
	return ok
}

// AllowedRooms returns the configured room names.
func (h *Hub) AllowedRooms() []string {
	return append([]string(nil), h.cfg.Rooms...)
}

// Closed reports whether Shutdown has begun.
func (h *Hub) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Rooms returns a copy of the current membership.
func (h *Hub) Rooms() map[string][]string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.registry.Snapshot()
}

// Count returns the number of connected members.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.registry.Count()
}

// Shutdown closes every connection with a going-away frame and waits for
// their goroutines to exit or ctx to end.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	peers := make([]*peer, 0, len(h.peers))
	for _, p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.Unlock()

	deadline := time.Now().Add(h.cfg.WriteTimeout)
	for _, p := range peers {
		p.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay shutting down"), deadline)
		p.close()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) join(p *peer) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}
	h.registry.Join(p.room, p.id)
	h.peers[p.id] = p
	// reader and writer
	h.wg.Add(2)
	h.metrics.ConnectionOpened(p.room)
	h.logger.Info("connection joined", zap.String("conn", p.id), zap.String("room", p.room))
	h.broadcastStateLocked()
	return true
}

func (h *Hub) leave(p *peer) {
	p.close()

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.peers[p.id]; !ok {
		return
	}
	delete(h.peers, p.id)
	h.registry.Leave(p.room, p.id)
	h.metrics.ConnectionClosed(p.room)
	h.logger.Info("connection left", zap.String("conn", p.id), zap.String("room", p.room))
	h.broadcastStateLocked()
}

func (h *Hub) readPump(p *peer) {
	p.conn.SetReadLimit(h.cfg.MaxMessageBytes)
	p.conn.SetPongHandler(func(string) error {
		p.alive.Store(true)
		return nil
	})

	for {
		_, frame, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("read failed", zap.String("conn", p.id), zap.Error(err))
			}
			return
		}
		h.route(p, frame)
	}
}

// writePump is the only goroutine that writes data frames to p.conn. It
// also drives liveness: a peer that has not answered the previous ping by
// the next tick is closed.
func (h *Hub) writePump(p *peer) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		p.close()
	}()

	for {
		select {
		case frame := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := p.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				h.logger.Debug("write failed", zap.String("conn", p.id), zap.Error(err))
				return
			}
		case <-ticker.C:
			if !p.alive.Swap(false) {
				h.logger.Warn("pruning unresponsive connection", zap.String("conn", p.id), zap.String("room", p.room))
				h.metrics.IncPruned()
				return
			}
			if err := p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.cfg.WriteTimeout)); err != nil {
				return
			}
		case <-p.done:
			return
		}
	}
}

// route forwards frame verbatim to every resolved target of its envelope.
func (h *Hub) route(sender *peer, frame []byte) {
	env, err := types.DecodeEnvelope(frame)
	if err == nil && env.Event == "" {
		err = errMissingEvent
	}
	if err != nil {
		malformed := &MalformedEnvelopeError{ConnectionID: sender.id, Room: sender.room, Err: err}
		h.logger.Warn("dropping envelope", zap.Error(malformed))
		h.metrics.IncMalformed()
		return
	}
	h.metrics.RecordEnvelope(env.Event)

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, p := range h.targetsLocked(env, sender.id) {
		h.enqueueLocked(p, frame)
	}
}

func (h *Hub) targetsLocked(env types.Envelope, senderID string) []*peer {
	var targets []*peer
	if len(env.TargetRooms) == 0 {
		for id, p := range h.peers {
			if id != senderID {
				targets = append(targets, p)
			}
		}
		return targets
	}

	seen := make(map[string]struct{})
	for _, roomName := range env.TargetRooms {
		for _, id := range h.registry.MembersOf(roomName) {
			if id == senderID {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			if p, ok := h.peers[id]; ok {
				targets = append(targets, p)
			}
		}
	}
	return targets
}

func (h *Hub) enqueueLocked(p *peer, frame []byte) {
	select {
	case p.send <- frame:
	default:
		h.metrics.IncDropped(p.room)
		h.logger.Warn("send queue full, dropping frame", zap.String("conn", p.id), zap.String("room", p.room))
	}
}

func (h *Hub) broadcastStateLocked() {
	snapshot := h.registry.Snapshot()
	env, err := types.NewEnvelope(types.EventRoomState, types.RoomState{
		Rooms: snapshot,
		Total: h.registry.Count(),
	})
	if err != nil {
		h.logger.Error("encode room state", zap.Error(err))
		return
	}
	frame, err := env.Encode()
	if err != nil {
		h.logger.Error("encode room state", zap.Error(err))
		return
	}
	for _, p := range h.peers {
		h.enqueueLocked(p, frame)
	}
}
