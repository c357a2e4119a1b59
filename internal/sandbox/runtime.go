package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
)

// Runtime wraps a goja VM. A Runtime runs one script at a time.
type Runtime struct {
	vm     *goja.Runtime
	config Config
	mu     sync.Mutex

	console []LogEntry
}

// New creates a new sandboxed runtime
func New(config Config) (*Runtime, error) {
	if config.Now == nil {
		config.Now = time.Now
	}

	r := &Runtime{config: config}
	if err := r.reset(); err != nil {
		return nil, err
	}
	return r, nil
}

// Execute runs source as the body of an async function whose parameters
// are the capability objects, and waits for the returned promise.
// A thrown exception or rejection is returned as *ScriptError.
func (r *Runtime) Execute(ctx context.Context, source string, doc *Document) (*Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.vm == nil {
		return nil, ErrPoolClosed
	}

	start := time.Now()
	r.console = nil
	mark := 0
	if doc != nil {
		mark = doc.changeCount()
	}

	stop := r.watch(ctx)
	value, err := r.run(source, doc)
	stop()

	result := &Result{
		Console:  r.console,
		Duration: time.Since(start),
	}
	if doc != nil {
		result.Changes = doc.changesSince(mark)
	}
	if err != nil {
		return result, err
	}
	result.Value = value
	return result, nil
}

// watch interrupts the VM when ctx ends or the timeout expires. The
// returned func stops watching and clears any interrupt that arrived after
// the script finished.
func (r *Runtime) watch(ctx context.Context) func() {
	var (
		timer   *time.Timer
		timeout <-chan time.Time
	)
	if r.config.Timeout > 0 {
		timer = time.NewTimer(r.config.Timeout)
		timeout = timer.C
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		select {
		case <-ctx.Done():
			r.vm.Interrupt(ctx.Err().Error())
		case <-timeout:
			r.vm.Interrupt("execution timeout exceeded")
		case <-stop:
		}
	}()

	return func() {
		close(stop)
		<-done
		if timer != nil {
			timer.Stop()
		}
		r.vm.ClearInterrupt()
	}
}

func (r *Runtime) run(source string, doc *Document) (interface{}, error) {
	wrapped := "(async function(" + strings.Join(Capabilities(), ", ") + ") {\n" + source + "\n})"

	fnValue, err := r.vm.RunString(wrapped)
	if err != nil {
		return nil, translate(err)
	}
	fn, ok := goja.AssertFunction(fnValue)
	if !ok {
		return nil, errors.New("script did not compile to a function")
	}

	var document goja.Value = goja.Undefined()
	if doc != nil {
		document = r.bindDocument(doc)
	}

	ret, err := fn(goja.Undefined(), r.bindConsole(), r.bindClock(), document)
	if err != nil {
		return nil, translate(err)
	}

	promise, ok := ret.Export().(*goja.Promise)
	if !ok {
		return exportValue(ret), nil
	}
	switch promise.State() {
	case goja.PromiseStateFulfilled:
		return exportValue(promise.Result()), nil
	case goja.PromiseStateRejected:
		return nil, &ScriptError{Message: promise.Result().String()}
	default:
		return nil, ErrNotSettled
	}
}

func translate(err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return &InterruptedError{Reason: fmt.Sprint(interrupted.Value())}
	}
	var exception *goja.Exception
	if errors.As(err, &exception) {
		return &ScriptError{Message: exception.Value().String()}
	}
	return &ScriptError{Message: err.Error()}
}

func (r *Runtime) bindConsole() goja.Value {
	console := r.vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error"} {
		console.Set(level, r.makeConsoleFunc(level))
	}
	return console
}

// makeConsoleFunc creates a console function
func (r *Runtime) makeConsoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		r.console = append(r.console, LogEntry{
			Level:   level,
			Message: strings.Join(parts, " "),
			Time:    r.config.Now(),
		})
		return goja.Undefined()
	}
}

func (r *Runtime) bindClock() goja.Value {
	clock := r.vm.NewObject()
	clock.Set("now", func(goja.FunctionCall) goja.Value {
		return r.vm.ToValue(r.config.Now().UnixMilli())
	})
	return clock
}

// exportValue converts goja value to Go value
func exportValue(val goja.Value) interface{} {
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil
	}
	return val.Export()
}

// reset replaces the VM, dropping anything a previous script left in the
// global scope.
func (r *Runtime) reset() error {
	vm := goja.New()
	if r.config.MaxCallStackSize > 0 {
		vm.SetMaxCallStackSize(r.config.MaxCallStackSize)
	}
	for _, name := range []string{"require", "process", "module", "exports", "setTimeout", "setInterval"} {
		if err := vm.GlobalObject().Delete(name); err != nil {
			return fmt.Errorf("strip global %s: %w", name, err)
		}
	}
	r.vm = vm
	r.console = nil
	return nil
}

// Reset clears the runtime state
func (r *Runtime) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reset()
}

// Close releases resources
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.vm = nil
	r.console = nil
	return nil
}
