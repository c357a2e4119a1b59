package task

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/GriffinCanCode/pluginbridge/internal/infrastructure/logging"
	"github.com/GriffinCanCode/pluginbridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/pluginbridge/internal/shared/types"
	"go.uber.org/zap"
)

// Results maps task names to the values they produced in the current run.
type Results map[string]interface{}

// Clone returns a shallow copy.
func (r Results) Clone() Results {
	out := make(Results, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Handler runs one task. results holds what earlier tasks of the run
// produced; it is a copy, so changes to it are not seen by anyone else.
type Handler func(ctx context.Context, opts types.Options, results Results) (interface{}, error)

// Task is a named handler. Tasks are created by a Registry.
type Task struct {
	name     string
	handler  Handler
	registry *Registry
}

// Name returns the task name.
func (t *Task) Name() string {
	return t.name
}

// Registry is a flat namespace of task names.
type Registry struct {
	logger  *logging.Logger
	metrics *monitoring.Metrics

	mu    sync.Mutex
	tasks map[string]*Task
}

// NewRegistry creates an empty registry. metrics may be nil.
func NewRegistry(logger *logging.Logger, metrics *monitoring.Metrics) *Registry {
	return &Registry{
		logger:  logger.Named("task"),
		metrics: metrics,
		tasks:   make(map[string]*Task),
	}
}

// Register adds a task. It fails with *RegistrationError if name is taken.
func (r *Registry) Register(name string, h Handler) (*Task, error) {
	if name == "" {
		return nil, &RegistrationError{Name: name, Reason: "empty name"}
	}
	if h == nil {
		return nil, &RegistrationError{Name: name, Reason: "nil handler"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tasks[name]; exists {
		return nil, &RegistrationError{Name: name, Reason: "name already registered"}
	}
	t := &Task{name: name, handler: h, registry: r}
	r.tasks[name] = t
	return t, nil
}

// MustRegister is Register that panics with the *RegistrationError.
func (r *Registry) MustRegister(name string, h Handler) *Task {
	t, err := r.Register(name, h)
	if err != nil {
		panic(err)
	}
	return t
}

// Names returns the registered names in order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// execute runs the handler, turning a panic into an error.
func (t *Task) execute(ctx context.Context, opts types.Options, results Results) (value interface{}, err error) {
	logger := t.registry.logger.With(zap.String("task", t.name))
	start := time.Now()
	logger.Debug("task started")

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
		elapsed := time.Since(start)
		status := "ok"
		if err != nil {
			status = "failed"
			logger.Warn("task failed", zap.Duration("elapsed", elapsed), zap.Error(err))
		} else {
			logger.Debug("task finished", zap.Duration("elapsed", elapsed))
		}
		t.registry.metrics.RecordTask(t.name, status, elapsed)
	}()

	return t.handler(ctx, opts, results)
}
