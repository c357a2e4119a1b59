package task

import (
	"context"
	"sync"

	"github.com/GriffinCanCode/pluginbridge/internal/shared/types"
	"golang.org/x/sync/errgroup"
)

type mode int

const (
	serial mode = iota
	parallel
)

// Runner executes a group of tasks once per Run.
type Runner struct {
	mode  mode
	tasks []*Task
}

// Serial runs tasks in order. Each sees the results of the ones before it,
// and the first failure stops the run.
func Serial(tasks ...*Task) *Runner {
	return &Runner{mode: serial, tasks: append([]*Task(nil), tasks...)}
}

// Parallel runs tasks concurrently from the same starting results. The run
// fails with the first error, but only after every task has returned.
func Parallel(tasks ...*Task) *Runner {
	return &Runner{mode: parallel, tasks: append([]*Task(nil), tasks...)}
}

// Run executes the group from empty results.
func (r *Runner) Run(ctx context.Context, opts types.Options) (Results, error) {
	return r.run(ctx, opts, Results{})
}

// group is the value of a nested runner; its entries are merged into the
// enclosing run's results.
type group Results

// Handler lets the group be registered as a task of an enclosing group.
// It starts from the enclosing run's results.
func (r *Runner) Handler() Handler {
	return func(ctx context.Context, opts types.Options, results Results) (interface{}, error) {
		out, err := r.run(ctx, opts, results)
		if err != nil {
			return nil, err
		}
		return group(out), nil
	}
}

func (r *Runner) run(ctx context.Context, opts types.Options, seed Results) (Results, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.mode == parallel {
		return r.runParallel(ctx, opts, seed)
	}
	return r.runSerial(ctx, opts, seed)
}

func (r *Runner) runSerial(ctx context.Context, opts types.Options, seed Results) (Results, error) {
	results := seed.Clone()
	for _, t := range r.tasks {
		if err := ctx.Err(); err != nil {
			return nil, &TaskExecutionError{Task: t.name, Err: err, Completed: results}
		}
		value, err := t.execute(ctx, opts, results.Clone())
		if err != nil {
			return nil, &TaskExecutionError{Task: t.name, Err: err, Completed: results}
		}
		store(results, t.name, value)
	}
	return results, nil
}

func (r *Runner) runParallel(ctx context.Context, opts types.Options, seed Results) (Results, error) {
	var (
		g       errgroup.Group
		mu      sync.Mutex
		results = seed.Clone()
	)

	for _, t := range r.tasks {
		t := t
		g.Go(func() error {
			value, err := t.execute(ctx, opts, seed.Clone())
			if err != nil {
				return &TaskExecutionError{Task: t.name, Err: err, Completed: seed.Clone()}
			}
			mu.Lock()
			store(results, t.name, value)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func store(results Results, name string, value interface{}) {
	if nested, ok := value.(group); ok {
		for k, v := range nested {
			results[k] = v
		}
		results[name] = Results(nested).Clone()
		return
	}
	results[name] = value
}
