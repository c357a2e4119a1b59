package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/GriffinCanCode/pluginbridge/internal/bridge"
	"github.com/GriffinCanCode/pluginbridge/internal/executor"
	"github.com/GriffinCanCode/pluginbridge/internal/infrastructure/config"
	"github.com/GriffinCanCode/pluginbridge/internal/infrastructure/logging"
	"github.com/GriffinCanCode/pluginbridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/pluginbridge/internal/infrastructure/server"
	"github.com/GriffinCanCode/pluginbridge/internal/sandbox"
	"github.com/GriffinCanCode/pluginbridge/internal/shared/types"
	"github.com/GriffinCanCode/pluginbridge/internal/status"
	"github.com/GriffinCanCode/pluginbridge/internal/task"
	"github.com/GriffinCanCode/pluginbridge/internal/watcher"
	"github.com/GriffinCanCode/pluginbridge/internal/ws/client"
	"go.uber.org/zap"
)

// Task names, also the keys of the run's results.
const (
	TaskConfig   = "config"
	TaskRelay    = "relay"
	TaskExecutor = "executor"
	TaskWatcher  = "watcher"
	TaskServices = "services"
	TaskReady    = "ready"
)

// Env is what a successful run produced.
type Env struct {
	Config   *config.Config
	Server   *server.Server
	Executor *executor.Executor
	// Watcher is nil when watching is disabled.
	Watcher *watcher.Watcher
	Ready   *Readiness
}

// Readiness is the result of the ready step: the relay reported healthy
// and an executor answered the readiness probe from the harness room.
type Readiness struct {
	Health     *types.Health
	ExecutorID string
}

// Lifecycle brings up a local development environment: the relay, an
// executor in the sandbox room and the build watcher.
type Lifecycle struct {
	base    *config.Config
	logger  *logging.Logger
	metrics *monitoring.Metrics
	tasks   *task.Registry
	runner  *task.Runner

	mu      sync.Mutex
	closers []closer
}

type closer struct {
	name string
	fn   func(ctx context.Context) error
}

// New registers the lifecycle tasks. base is not modified.
func New(base *config.Config, logger *logging.Logger, metrics *monitoring.Metrics) *Lifecycle {
	l := &Lifecycle{
		base:    base,
		logger:  logger.Named("lifecycle"),
		metrics: metrics,
		tasks:   task.NewRegistry(logger, metrics),
	}

	cfgTask := l.tasks.MustRegister(TaskConfig, l.configure)
	relay := l.tasks.MustRegister(TaskRelay, l.startRelay)
	exec := l.tasks.MustRegister(TaskExecutor, l.startExecutor)
	watch := l.tasks.MustRegister(TaskWatcher, l.startWatcher)
	services := l.tasks.MustRegister(TaskServices, task.Parallel(exec, watch).Handler())
	ready := l.tasks.MustRegister(TaskReady, l.waitReady)

	l.runner = task.Serial(cfgTask, relay, services, ready)
	return l
}

// Tasks returns the lifecycle's task registry.
func (l *Lifecycle) Tasks() *task.Registry {
	return l.tasks
}

// Run starts everything. On failure whatever already started is torn down
// before returning.
func (l *Lifecycle) Run(ctx context.Context, opts types.Options) (*Env, error) {
	start := time.Now()
	l.logger.Info("Starting environment", zap.Strings("tasks", l.tasks.Names()))
	results, err := l.runner.Run(ctx, opts)
	if err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if closeErr := l.Close(shutdownCtx); closeErr != nil {
			l.logger.Warn("cleanup after failed start", zap.Error(closeErr))
		}
		return nil, err
	}

	env := &Env{}
	env.Config, _ = results[TaskConfig].(*config.Config)
	env.Server, _ = results[TaskRelay].(*server.Server)
	env.Executor, _ = results[TaskExecutor].(*executor.Executor)
	env.Watcher, _ = results[TaskWatcher].(*watcher.Watcher)
	env.Ready, _ = results[TaskReady].(*Readiness)

	l.logger.Info("Environment ready",
		zap.String("relay", env.Server.URL()),
		zap.String("executor", env.Ready.ExecutorID),
		zap.Duration("elapsed", time.Since(start)),
	)
	return env, nil
}

// Close stops what Run started, newest first.
func (l *Lifecycle) Close(ctx context.Context) error {
	l.mu.Lock()
	closers := l.closers
	l.closers = nil
	l.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", closers[i].name, err))
		}
	}
	return errors.Join(errs...)
}

func (l *Lifecycle) onClose(name string, fn func(ctx context.Context) error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closers = append(l.closers, closer{name: name, fn: fn})
}

// ClientConfig maps the client settings onto a relay client for room.
func ClientConfig(cfg *config.Config, url, room string) client.Config {
	return client.Config{
		URL:              url,
		Room:             room,
		BaseDelay:        cfg.Client.BaseDelay,
		MaxDelay:         cfg.Client.MaxDelay,
		EmitAttempts:     cfg.Client.EmitAttempts,
		EmitPollInterval: cfg.Client.EmitPollInterval,
	}
}

func (l *Lifecycle) configure(_ context.Context, opts types.Options, _ task.Results) (interface{}, error) {
	cfg := *l.base
	if opts.Port > 0 {
		cfg.Relay.BasePort = opts.Port
	}
	if opts.Debug {
		cfg.Logging.Level = "debug"
		cfg.Logging.Development = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (l *Lifecycle) startRelay(_ context.Context, _ types.Options, results task.Results) (interface{}, error) {
	cfg, err := lookup[*config.Config](results, TaskConfig)
	if err != nil {
		return nil, err
	}

	srv := server.New(cfg, l.logger, l.metrics)
	if err := srv.Start(); err != nil {
		return nil, err
	}
	l.onClose(TaskRelay, srv.Shutdown)
	return srv, nil
}

func (l *Lifecycle) startExecutor(ctx context.Context, _ types.Options, results task.Results) (interface{}, error) {
	cfg, err := lookup[*config.Config](results, TaskConfig)
	if err != nil {
		return nil, err
	}
	srv, err := lookup[*server.Server](results, TaskRelay)
	if err != nil {
		return nil, err
	}

	pool, err := sandbox.NewPool(sandbox.Config{Timeout: cfg.Executor.Timeout}, cfg.Executor.PoolSize)
	if err != nil {
		return nil, fmt.Errorf("sandbox pool: %w", err)
	}
	conn, err := client.Dial(ctx, ClientConfig(cfg, srv.URL(), types.RoomSandbox), l.logger)
	if err != nil {
		pool.Close()
		return nil, err
	}

	exec := executor.New(conn, pool, sandbox.NewDocument(), executor.DefaultConfig(), l.logger, l.metrics)
	if err := exec.Start(context.WithoutCancel(ctx)); err != nil {
		conn.Close()
		pool.Close()
		return nil, err
	}
	l.onClose(TaskExecutor, func(context.Context) error {
		exec.Stop()
		return errors.Join(conn.Close(), pool.Close())
	})
	return exec, nil
}

func (l *Lifecycle) startWatcher(ctx context.Context, _ types.Options, results task.Results) (interface{}, error) {
	cfg, err := lookup[*config.Config](results, TaskConfig)
	if err != nil {
		return nil, err
	}
	if !cfg.Watcher.Enabled {
		l.logger.Info("Build watcher disabled")
		return nil, nil
	}
	srv, err := lookup[*server.Server](results, TaskRelay)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.Watcher.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create watch dir: %w", err)
	}
	conn, err := client.Dial(ctx, ClientConfig(cfg, srv.URL(), types.RoomBuildWatcher), l.logger)
	if err != nil {
		return nil, err
	}

	w, err := watcher.New(watcher.Config{
		Dir:      cfg.Watcher.Dir,
		Patterns: cfg.Watcher.Patterns,
		Debounce: cfg.Watcher.Debounce,
	}, conn, l.logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := w.Start(context.WithoutCancel(ctx)); err != nil {
		w.Close()
		conn.Close()
		return nil, err
	}
	l.onClose(TaskWatcher, func(context.Context) error {
		return errors.Join(w.Close(), conn.Close())
	})
	return w, nil
}

func (l *Lifecycle) waitReady(ctx context.Context, _ types.Options, results task.Results) (interface{}, error) {
	cfg, err := lookup[*config.Config](results, TaskConfig)
	if err != nil {
		return nil, err
	}
	srv, err := lookup[*server.Server](results, TaskRelay)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Bridge.ReadyTimeout)
	defer cancel()
	health, err := status.New(status.DefaultConfig(srv.HTTPURL()), l.logger).WaitHealthy(ctx)
	if err != nil {
		return nil, err
	}

	conn, err := client.Dial(ctx, ClientConfig(cfg, srv.URL(), types.RoomHarness), l.logger)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	b := bridge.New(conn, bridge.Config{TargetRoom: cfg.Bridge.TargetRoom, Timeout: cfg.Bridge.Timeout}, l.logger)
	defer b.Close()
	if err := b.WaitReady(ctx); err != nil {
		return nil, err
	}
	return &Readiness{Health: health, ExecutorID: b.ExecutorID()}, nil
}

func lookup[T any](results task.Results, name string) (T, error) {
	var zero T
	v, ok := results[name]
	if !ok {
		return zero, fmt.Errorf("no %s result", name)
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%s result is %T", name, v)
	}
	return typed, nil
}
