package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/GriffinCanCode/pluginbridge/internal/infrastructure/logging"
	"github.com/GriffinCanCode/pluginbridge/internal/shared/types"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Config controls a relay client.
type Config struct {
	// URL is the relay endpoint, e.g. ws://127.0.0.1:3001/relay.
	URL  string
	Room string

	BaseDelay        time.Duration
	MaxDelay         time.Duration
	EmitAttempts     int
	EmitPollInterval time.Duration
	WriteTimeout     time.Duration

	Dialer        *websocket.Dialer
	OnStateChange func(State)
}

func (c *Config) setDefaults() {
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.EmitAttempts <= 0 {
		c.EmitAttempts = 10
	}
	if c.EmitPollInterval <= 0 {
		c.EmitPollInterval = 200 * time.Millisecond
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
}

// Handler receives envelopes for one event. Handlers run on the client's
// read goroutine and must not block.
type Handler func(types.Envelope)

// Client is a relay connection bound to one room. It reconnects on its own
// after an unexpected close; Emit and On are safe for concurrent use.
type Client struct {
	cfg    Config
	logger *logging.Logger

	mu       sync.RWMutex
	conn     *websocket.Conn
	state    State
	handlers map[string]map[uint64]Handler
	nextID   uint64

	writeMu sync.Mutex

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Dial connects to the relay in cfg.Room. The first connection attempt is
// made synchronously; later ones happen in the background.
func Dial(ctx context.Context, cfg Config, logger *logging.Logger) (*Client, error) {
	cfg.setDefaults()
	if cfg.Room == "" {
		return nil, &ConnectionError{Op: "dial", Err: errors.New("no room given")}
	}

	c := &Client{
		cfg:      cfg,
		logger:   logger.Named("client").With(zap.String("room", cfg.Room)),
		state:    StateDisconnected,
		handlers: make(map[string]map[uint64]Handler),
		closed:   make(chan struct{}),
	}

	c.setState(StateConnecting)
	conn, err := c.dial(ctx)
	if err != nil {
		c.setState(StateClosed)
		return nil, &ConnectionError{Op: "dial", Err: err}
	}
	c.attach(conn)
	c.logger.Info("connected to relay", zap.String("url", cfg.URL))

	c.wg.Add(1)
	go c.run(conn)
	return c, nil
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Room returns the room this client claimed.
func (c *Client) Room() string {
	return c.cfg.Room
}

// On registers h for event and returns a function that removes it.
func (c *Client) On(event string, h Handler) func() {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	if c.handlers[event] == nil {
		c.handlers[event] = make(map[uint64]Handler)
	}
	c.handlers[event][id] = h
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.handlers[event], id)
		if len(c.handlers[event]) == 0 {
			delete(c.handlers, event)
		}
	}
}

// Off removes every handler registered for event.
func (c *Client) Off(event string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, event)
}

// Emit sends an envelope to targetRooms, or to everyone when none are given.
// While disconnected it polls for the connection up to EmitAttempts times
// before giving up with a *ConnectionError.
func (c *Client) Emit(ctx context.Context, event string, payload interface{}, targetRooms ...string) error {
	env, err := types.NewEnvelope(event, payload, targetRooms...)
	if err != nil {
		return err
	}
	frame, err := env.Encode()
	if err != nil {
		return fmt.Errorf("encode %s envelope: %w", event, err)
	}

	var lastErr error = errors.New("not connected")
	for attempt := 1; attempt <= c.cfg.EmitAttempts; attempt++ {
		select {
		case <-c.closed:
			return &ConnectionError{Op: "emit", Event: event, Attempts: attempt, Err: ErrClosed}
		default:
		}

		if conn := c.current(); conn != nil {
			err := c.write(conn, frame)
			if err == nil {
				return nil
			}
			lastErr = err
		}

		if attempt == c.cfg.EmitAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.closed:
			return &ConnectionError{Op: "emit", Event: event, Attempts: attempt, Err: ErrClosed}
		case <-time.After(c.cfg.EmitPollInterval):
		}
	}

	c.logger.Warn("emit failed", zap.String("event", event), zap.Error(lastErr))
	return &ConnectionError{Op: "emit", Event: event, Attempts: c.cfg.EmitAttempts, Err: lastErr}
}

// Close shuts the connection down and stops reconnecting.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)

		c.mu.Lock()
		conn := c.conn
		c.conn = nil
		c.mu.Unlock()

		if conn != nil {
			c.writeMu.Lock()
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.cfg.WriteTimeout))
			c.writeMu.Unlock()
			conn.Close()
		}
		c.setState(StateClosed)
		c.logger.Info("relay client closed")
	})
	c.wg.Wait()
	return nil
}

func (c *Client) run(conn *websocket.Conn) {
	defer c.wg.Done()

	for conn != nil {
		c.readLoop(conn)

		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		conn.Close()

		select {
		case <-c.closed:
			return
		default:
		}

		c.setState(StateDisconnected)
		c.logger.Warn("disconnected from relay")
		conn = c.reconnect()
	}
}

// reconnect drives Disconnected -> Connecting -> Connected with one timer.
// The attempt counter starts over on every call, so the delay resets after
// a successful reconnect. It returns nil once the client is closed.
func (c *Client) reconnect() *websocket.Conn {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.closed:
			cancel()
		case <-ctx.Done():
		}
	}()

	timer := time.NewTimer(backoffDelay(c.cfg.BaseDelay, c.cfg.MaxDelay, 0))
	defer timer.Stop()

	for attempt := 0; ; attempt++ {
		select {
		case <-c.closed:
			return nil
		case <-timer.C:
		}

		c.setState(StateConnecting)
		conn, err := c.dial(ctx)
		if err == nil {
			c.attach(conn)
			c.logger.Info("reconnected to relay", zap.Int("attempt", attempt+1))
			return conn
		}

		select {
		case <-c.closed:
			return nil
		default:
		}
		c.setState(StateDisconnected)
		delay := backoffDelay(c.cfg.BaseDelay, c.cfg.MaxDelay, attempt+1)
		c.logger.Debug("reconnect failed", zap.Int("attempt", attempt+1), zap.Duration("retry_in", delay), zap.Error(err))
		timer.Reset(delay)
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	endpoint, err := url.Parse(c.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}
	query := endpoint.Query()
	query.Set("room", c.cfg.Room)
	endpoint.RawQuery = query.Encode()

	header := http.Header{}
	header.Set("X-Relay-Room", c.cfg.Room)

	conn, resp, err := c.cfg.Dialer.DialContext(ctx, endpoint.String(), header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("handshake rejected with %s: %w", resp.Status, err)
		}
		return nil, err
	}
	return conn, nil
}

func (c *Client) attach(conn *websocket.Conn) {
	c.mu.Lock()
	select {
	case <-c.closed:
		c.mu.Unlock()
		conn.Close()
		return
	default:
	}
	c.conn = conn
	c.mu.Unlock()
	c.setState(StateConnected)
}

func (c *Client) current() *websocket.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != StateConnected {
		return nil
	}
	return c.conn
}

func (c *Client) write(conn *websocket.Conn, frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := types.DecodeEnvelope(frame)
		if err != nil || env.Event == "" {
			c.logger.Debug("ignoring undecodable frame", zap.Error(err))
			continue
		}
		c.dispatch(env)
	}
}

func (c *Client) dispatch(env types.Envelope) {
	c.mu.RLock()
	handlers := make([]Handler, 0, len(c.handlers[env.Event]))
	for _, h := range c.handlers[env.Event] {
		handlers = append(handlers, h)
	}
	c.mu.RUnlock()

	for _, h := range handlers {
		h(env)
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	if c.state == s || c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()

	if c.cfg.OnStateChange != nil {
		c.cfg.OnStateChange(s)
	}
}
