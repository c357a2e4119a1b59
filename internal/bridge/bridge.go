package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/GriffinCanCode/pluginbridge/internal/infrastructure/logging"
	"github.com/GriffinCanCode/pluginbridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/pluginbridge/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/pluginbridge/internal/shared/id"
	"github.com/GriffinCanCode/pluginbridge/internal/shared/types"
	"github.com/GriffinCanCode/pluginbridge/internal/ws/client"
	"go.uber.org/zap"
)

// Emitter is the relay surface the bridge needs. *client.Client
// implements it.
type Emitter interface {
	Emit(ctx context.Context, event string, payload interface{}, targetRooms ...string) error
	On(event string, h client.Handler) func()
}

// Config holds bridge defaults.
type Config struct {
	TargetRoom    string
	Timeout       time.Duration
	CancelTimeout time.Duration // bound on the best-effort CANCEL_REQUEST emit
	ProbeInterval time.Duration // READY_PROBE resend interval in WaitReady
}

// DefaultConfig returns the bridge defaults.
func DefaultConfig() Config {
	return Config{
		TargetRoom:    types.RoomSandbox,
		Timeout:       30 * time.Second,
		CancelTimeout: time.Second,
		ProbeInterval: 500 * time.Millisecond,
	}
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithBreaker makes calls fail fast with resilience.ErrCircuitOpen once the
// breaker opens.
func WithBreaker(breaker *resilience.Breaker) Option {
	return func(b *Bridge) { b.breaker = breaker }
}

// WithMetrics records call outcomes.
func WithMetrics(metrics *monitoring.Metrics) Option {
	return func(b *Bridge) { b.metrics = metrics }
}

// CallOption configures a single call.
type CallOption func(*callOptions)

type callOptions struct {
	timeout time.Duration
}

// WithTimeout overrides the call timeout.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) { o.timeout = d }
}

// Bridge runs source text on a remote executor and waits for the
// correlated response. Calls are independent and may run concurrently.
type Bridge struct {
	cfg     Config
	relay   Emitter
	logger  *logging.Logger
	metrics *monitoring.Metrics
	breaker *resilience.Breaker

	mu         sync.Mutex
	ready      chan struct{}
	executorID string
	unsub      []func()

	wg sync.WaitGroup
}

// New creates a bridge on relay and starts listening for EXECUTOR_READY.
// Readiness is withdrawn when a ROOM_STATE shows the executor room empty.
func New(relay Emitter, cfg Config, logger *logging.Logger, opts ...Option) *Bridge {
	defaults := DefaultConfig()
	if cfg.TargetRoom == "" {
		cfg.TargetRoom = defaults.TargetRoom
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.CancelTimeout <= 0 {
		cfg.CancelTimeout = defaults.CancelTimeout
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = defaults.ProbeInterval
	}

	b := &Bridge{
		cfg:    cfg,
		relay:  relay,
		logger: logger.Named("bridge"),
		ready:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.unsub = []func(){
		relay.On(types.EventExecutorReady, b.handleReady),
		relay.On(types.EventRoomState, b.handleRoomState),
	}
	return b
}

func (b *Bridge) handleReady(env types.Envelope) {
	var notice types.ReadyNotice
	if err := env.Decode(&notice); err != nil {
		b.logger.Warn("ignoring malformed readiness notice", zap.Error(err))
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.executorID = notice.ExecutorID
	select {
	case <-b.ready:
	default:
		close(b.ready)
		b.logger.Info("executor ready", zap.String("executor", notice.ExecutorID), zap.Int("pool_size", notice.PoolSize))
	}
}

func (b *Bridge) handleRoomState(env types.Envelope) {
	var state types.RoomState
	if err := env.Decode(&state); err != nil {
		b.logger.Warn("ignoring malformed room state", zap.Error(err))
		return
	}
	if len(state.Rooms[b.cfg.TargetRoom]) > 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	select {
	case <-b.ready:
		b.logger.Info("executor left", zap.String("executor", b.executorID))
		b.ready = make(chan struct{})
		b.executorID = ""
	default:
	}
}

func (b *Bridge) readyCh() chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ready
}

// Ready reports whether an executor has announced itself and is still
// present.
func (b *Bridge) Ready() bool {
	select {
	case <-b.readyCh():
		return true
	default:
		return false
	}
}

// ExecutorID returns the id from the latest readiness notice.
func (b *Bridge) ExecutorID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.executorID
}

// WaitReady sends READY_PROBE to the executor room every ProbeInterval
// until an executor answers or ctx ends.
func (b *Bridge) WaitReady(ctx context.Context) error {
	if b.Ready() {
		return nil
	}

	ticker := time.NewTicker(b.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		ready := b.readyCh()
		if err := b.relay.Emit(ctx, types.EventReadyProbe, nil, b.cfg.TargetRoom); err != nil {
			b.logger.Debug("readiness probe failed", zap.Error(err))
		}

		select {
		case <-ready:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("waiting for executor in %s: %w", b.cfg.TargetRoom, ctx.Err())
		case <-ticker.C:
		}
	}
}

// CallRemote sends sourceText to the executor room under a fresh run id
// and returns the value it produced. It fails with *TimeoutError when no
// response arrives in time, *RemoteExecutionError when the code threw,
// *client.ConnectionError when the relay is unreachable, and ErrNotReady
// before the readiness handshake or once the executor room empties.
func (b *Bridge) CallRemote(ctx context.Context, sourceText string, opts ...CallOption) (interface{}, error) {
	if !b.Ready() {
		return nil, ErrNotReady
	}

	o := callOptions{timeout: b.cfg.Timeout}
	for _, opt := range opts {
		opt(&o)
	}

	if b.breaker != nil {
		if err := b.breaker.Allow(); err != nil {
			b.logger.Warn("call rejected", zap.String("breaker", b.breaker.Name()), zap.Error(err))
			return nil, err
		}
	}
	value, err := b.call(ctx, sourceText, o.timeout)
	if b.breaker != nil {
		b.breaker.Record(err)
	}
	return value, err
}

func (b *Bridge) call(ctx context.Context, sourceText string, timeout time.Duration) (interface{}, error) {
	runID := id.NewRunID().String()
	logger := b.logger.With(zap.String("run_id", runID))
	timer := monitoring.NewTimer(b.metrics)

	// Only the first response for runID is honored; the channel never
	// blocks a handler.
	responses := make(chan types.ExecutionResponse, 1)
	var once sync.Once
	listen := func(kind types.ResponseKind) client.Handler {
		return func(env types.Envelope) {
			var resp types.ExecutionResponse
			if err := env.Decode(&resp); err != nil || resp.RunID != runID {
				return
			}
			resp.Kind = kind
			once.Do(func() { responses <- resp })
		}
	}

	unsubResult := b.relay.On(types.EventExecuteResult, listen(types.KindResult))
	unsubError := b.relay.On(types.EventExecuteError, listen(types.KindError))
	deadline := time.NewTimer(timeout)
	defer func() {
		unsubResult()
		unsubError()
		deadline.Stop()
	}()

	start := time.Now()
	req := types.ExecutionRequest{RunID: runID, SourceText: sourceText}
	if err := b.relay.Emit(ctx, types.EventExecuteRequest, req, b.cfg.TargetRoom); err != nil {
		timer.Stop(monitoring.OutcomeConnection)
		return nil, fmt.Errorf("send %s: %w", runID, err)
	}
	logger.Debug("execution requested", zap.Duration("timeout", timeout))

	select {
	case resp := <-responses:
		if resp.Kind == types.KindError {
			timer.Stop(monitoring.OutcomeError)
			return nil, &RemoteExecutionError{RunID: runID, Message: resp.Message}
		}
		timer.Stop(monitoring.OutcomeResult)
		return resp.Value, nil

	case <-deadline.C:
		elapsed := time.Since(start)
		timer.Stop(monitoring.OutcomeTimeout)
		logger.Warn("remote call timed out", zap.Duration("elapsed", elapsed))
		b.cancelRemote(runID)
		return nil, &TimeoutError{RunID: runID, Timeout: timeout, Elapsed: elapsed}

	case <-ctx.Done():
		timer.Stop(monitoring.OutcomeCancelled)
		b.cancelRemote(runID)
		return nil, fmt.Errorf("remote call %s: %w", runID, ctx.Err())
	}
}

// cancelRemote sends CANCEL_REQUEST without waiting for it. The executor
// may already have finished, and nothing waits for an acknowledgement.
func (b *Bridge) cancelRemote(runID string) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), b.cfg.CancelTimeout)
		defer cancel()
		if err := b.relay.Emit(ctx, types.EventCancelRequest, types.CancelRequest{RunID: runID}, b.cfg.TargetRoom); err != nil {
			b.logger.Debug("cancel request not delivered", zap.String("run_id", runID), zap.Error(err))
		}
	}()
}

// Close stops listening for readiness and waits for pending cancel emits.
func (b *Bridge) Close() {
	b.mu.Lock()
	unsub := b.unsub
	b.unsub = nil
	b.mu.Unlock()

	for _, fn := range unsub {
		fn()
	}
	b.wg.Wait()
}

// NewBreaker returns a breaker that only counts transport failures, so
// code that throws never trips it.
func NewBreaker(threshold uint32, cooldown time.Duration, logger *logging.Logger) *resilience.Breaker {
	logger = logger.Named("breaker")
	return resilience.New("bridge", resilience.Settings{
		Threshold: threshold,
		Cooldown:  cooldown,
		IsFailure: IsTransportFailure,
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("circuit state changed", zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
}
