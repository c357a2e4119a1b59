package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/GriffinCanCode/pluginbridge/internal/infrastructure/logging"
	"github.com/GriffinCanCode/pluginbridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/pluginbridge/internal/sandbox"
	"github.com/GriffinCanCode/pluginbridge/internal/shared/id"
	"github.com/GriffinCanCode/pluginbridge/internal/shared/types"
	"github.com/GriffinCanCode/pluginbridge/internal/ws/client"
	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

// Emitter is the relay surface the executor needs. *client.Client
// implements it.
type Emitter interface {
	Emit(ctx context.Context, event string, payload interface{}, targetRooms ...string) error
	On(event string, h client.Handler) func()
}

// Runner evaluates scripts. *sandbox.Pool implements it.
type Runner interface {
	Execute(ctx context.Context, source string, doc *sandbox.Document) (*sandbox.Result, error)
	Reset() error
	Stats() sandbox.PoolStats
}

// Config controls where the executor sends replies.
type Config struct {
	// ReplyRooms receive EXECUTE_RESULT, EXECUTE_ERROR and EXECUTOR_READY.
	ReplyRooms []string
	// EmitTimeout bounds each reply emit.
	EmitTimeout time.Duration
}

// DefaultConfig replies to the harness and observers.
func DefaultConfig() Config {
	return Config{
		ReplyRooms:  []string{types.RoomHarness, types.RoomObserver},
		EmitTimeout: 10 * time.Second,
	}
}

// Executor answers execution requests arriving in its room. Each request
// runs on its own goroutine; CANCEL_REQUEST interrupts the matching run.
type Executor struct {
	id      id.ExecutorID
	cfg     Config
	relay   Emitter
	runner  Runner
	doc     *sandbox.Document
	logger  *logging.Logger
	metrics *monitoring.Metrics

	mu      sync.Mutex
	running map[string]context.CancelFunc
	unsubs  []func()
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates an executor. doc is the host state scripts see as document;
// metrics may be nil.
func New(relay Emitter, runner Runner, doc *sandbox.Document, cfg Config, logger *logging.Logger, metrics *monitoring.Metrics) *Executor {
	if len(cfg.ReplyRooms) == 0 {
		cfg.ReplyRooms = DefaultConfig().ReplyRooms
	}
	if cfg.EmitTimeout <= 0 {
		cfg.EmitTimeout = DefaultConfig().EmitTimeout
	}
	if doc == nil {
		doc = sandbox.NewDocument()
	}

	executorID := id.NewExecutorID()
	return &Executor{
		id:      executorID,
		cfg:     cfg,
		relay:   relay,
		runner:  runner,
		doc:     doc,
		logger:  logger.Named("executor").With(zap.String("executor", executorID.String())),
		metrics: metrics,
		running: make(map[string]context.CancelFunc),
	}
}

// ID returns the id announced in EXECUTOR_READY.
func (e *Executor) ID() string {
	return e.id.String()
}

// Document returns the host state scripts operate on.
func (e *Executor) Document() *sandbox.Document {
	return e.doc
}

// Running returns the number of requests in flight.
func (e *Executor) Running() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.running)
}

// Start subscribes to the relay and announces readiness. Runs are
// cancelled when ctx ends or Stop is called. If the announcement cannot be
// sent the subscriptions are removed again.
func (e *Executor) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.ctx != nil {
		e.mu.Unlock()
		return fmt.Errorf("executor %s already started", e.id)
	}
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.unsubs = []func(){
		e.relay.On(types.EventExecuteRequest, e.handleRequest),
		e.relay.On(types.EventCancelRequest, e.handleCancel),
		e.relay.On(types.EventReadyProbe, e.handleProbe),
		e.relay.On(types.EventBuildComplete, e.handleBuild),
	}
	e.mu.Unlock()

	if err := e.announce(); err != nil {
		e.Stop()
		return fmt.Errorf("announce readiness: %w", err)
	}
	e.logger.Info("executor started", zap.Int("pool_size", e.runner.Stats().Size))
	return nil
}

// Stop unsubscribes, cancels every run and waits for them to finish.
func (e *Executor) Stop() {
	e.mu.Lock()
	unsubs := e.unsubs
	e.unsubs = nil
	cancel := e.cancel
	e.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	if cancel != nil {
		cancel()
	}
	e.wg.Wait()
}

func (e *Executor) handleRequest(env types.Envelope) {
	var req types.ExecutionRequest
	if err := env.Decode(&req); err != nil || req.RunID == "" {
		e.logger.Warn("ignoring execution request without run id", zap.Error(err))
		return
	}

	e.mu.Lock()
	if e.ctx == nil || e.ctx.Err() != nil {
		e.mu.Unlock()
		return
	}
	if _, dup := e.running[req.RunID]; dup {
		e.mu.Unlock()
		e.logger.Warn("ignoring duplicate execution request", zap.String("run_id", req.RunID))
		return
	}
	ctx, cancel := context.WithCancel(e.ctx)
	e.running[req.RunID] = cancel
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		e.run(ctx, req)
	}()
}

func (e *Executor) run(ctx context.Context, req types.ExecutionRequest) {
	start := time.Now()
	logger := e.logger.With(zap.String("run_id", req.RunID))
	logger.Debug("executing")

	result, err := e.runner.Execute(ctx, req.SourceText, e.doc)

	e.mu.Lock()
	cancel := e.running[req.RunID]
	delete(e.running, req.RunID)
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	if result != nil {
		forwardConsole(logger, result.Console)
	}

	resp := types.ExecutionResponse{RunID: req.RunID, Kind: types.KindResult}
	if err == nil {
		resp.Value, err = encodeValue(result.Value)
	}
	event := types.EventExecuteResult
	outcome := monitoring.OutcomeResult
	if err != nil {
		resp = types.ExecutionResponse{RunID: req.RunID, Kind: types.KindError, Message: err.Error()}
		event = types.EventExecuteError
		outcome = monitoring.OutcomeError
		if ctx.Err() != nil {
			outcome = monitoring.OutcomeCancelled
		}
	}
	elapsed := time.Since(start)
	e.metrics.RecordExecution(outcome, elapsed)

	if emitErr := e.emit(event, resp); emitErr != nil {
		logger.Error("failed to send response", zap.String("event", event), zap.Error(emitErr))
		return
	}
	logger.Info("execution finished", zap.String("outcome", outcome), zap.Duration("elapsed", elapsed))
}

func encodeValue(v interface{}) (json.RawMessage, error) {
	raw, err := sonic.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("result is not serializable: %w", err)
	}
	return raw, nil
}

func forwardConsole(logger *logging.Logger, entries []sandbox.LogEntry) {
	for _, entry := range entries {
		fields := []zap.Field{zap.String("source", "console"), zap.Time("at", entry.Time)}
		switch entry.Level {
		case "error":
			logger.Error(entry.Message, fields...)
		case "warn":
			logger.Warn(entry.Message, fields...)
		default:
			logger.Info(entry.Message, fields...)
		}
	}
}

// handleCancel interrupts a running request. Unknown run ids are ignored.
func (e *Executor) handleCancel(env types.Envelope) {
	var req types.CancelRequest
	if err := env.Decode(&req); err != nil {
		e.logger.Warn("ignoring malformed cancel request", zap.Error(err))
		return
	}

	e.mu.Lock()
	cancel, ok := e.running[req.RunID]
	e.mu.Unlock()

	if !ok {
		e.logger.Debug("cancel for idle run", zap.String("run_id", req.RunID))
		return
	}
	e.logger.Info("cancelling run", zap.String("run_id", req.RunID))
	cancel()
}

func (e *Executor) handleProbe(types.Envelope) {
	e.goAnnounce()
}

// handleBuild retires every runtime after a rebuild and announces
// readiness again.
func (e *Executor) handleBuild(env types.Envelope) {
	var notice types.BuildNotice
	if err := env.Decode(&notice); err == nil {
		e.logger.Info("rebuild detected", zap.Strings("files", notice.Files))
	}
	if err := e.runner.Reset(); err != nil {
		e.logger.Error("failed to reset runtimes", zap.Error(err))
		return
	}
	e.logger.Debug("runtimes reset", zap.Uint64("generation", e.runner.Stats().Generation))
	e.goAnnounce()
}

// goAnnounce announces off the read goroutine, since Emit may wait for a
// reconnect.
func (e *Executor) goAnnounce() {
	e.mu.Lock()
	if e.ctx == nil || e.ctx.Err() != nil {
		e.mu.Unlock()
		return
	}
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		if err := e.announce(); err != nil {
			e.logger.Warn("failed to announce readiness", zap.Error(err))
		}
	}()
}

func (e *Executor) announce() error {
	stats := e.runner.Stats()
	return e.emit(types.EventExecutorReady, types.ReadyNotice{
		ExecutorID: e.id.String(),
		PoolSize:   stats.Size,
		Generation: stats.Generation,
	})
}

func (e *Executor) emit(event string, payload interface{}) error {
	e.mu.Lock()
	base := e.ctx
	e.mu.Unlock()
	if base == nil {
		base = context.Background()
	}

	ctx, cancel := context.WithTimeout(base, e.cfg.EmitTimeout)
	defer cancel()
	return e.relay.Emit(ctx, event, payload, e.cfg.ReplyRooms...)
}
