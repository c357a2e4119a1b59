package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/GriffinCanCode/pluginbridge/internal/infrastructure/logging"
	"github.com/GriffinCanCode/pluginbridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/pluginbridge/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/pluginbridge/internal/shared/types"
	"github.com/GriffinCanCode/pluginbridge/internal/ws/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const wait = 2 * time.Second

type sent struct {
	event string
	env   types.Envelope
	rooms []string
}

// loopback stands in for the relay client: emits are captured and tests
// deliver responses to the registered handlers.
type loopback struct {
	mu       sync.Mutex
	handlers map[string]map[int]client.Handler
	nextID   int
	sent     chan sent
	emitErr  error
	onEmit   func(event string, env types.Envelope)
}

func newLoopback() *loopback {
	return &loopback{
		handlers: make(map[string]map[int]client.Handler),
		sent:     make(chan sent, 64),
	}
}

func (l *loopback) Emit(_ context.Context, event string, payload interface{}, rooms ...string) error {
	l.mu.Lock()
	emitErr, onEmit := l.emitErr, l.onEmit
	l.mu.Unlock()
	if emitErr != nil {
		return emitErr
	}

	env, err := types.NewEnvelope(event, payload, rooms...)
	if err != nil {
		return err
	}
	l.sent <- sent{event: event, env: env, rooms: rooms}
	if onEmit != nil {
		onEmit(event, env)
	}
	return nil
}

func (l *loopback) On(event string, h client.Handler) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	id := l.nextID
	if l.handlers[event] == nil {
		l.handlers[event] = make(map[int]client.Handler)
	}
	l.handlers[event][id] = h
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.handlers[event], id)
	}
}

func (l *loopback) deliver(t *testing.T, event string, payload interface{}) {
	t.Helper()
	env, err := types.NewEnvelope(event, payload)
	require.NoError(t, err)

	l.mu.Lock()
	var hs []client.Handler
	for _, h := range l.handlers[event] {
		hs = append(hs, h)
	}
	l.mu.Unlock()
	for _, h := range hs {
		h(env)
	}
}

func (l *loopback) listeners(event string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.handlers[event])
}

func (l *loopback) setOnEmit(fn func(event string, env types.Envelope)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onEmit = fn
}

// request waits for the next EXECUTE_REQUEST.
func (l *loopback) request(t *testing.T) types.ExecutionRequest {
	t.Helper()
	return expectPayload[types.ExecutionRequest](t, l, types.EventExecuteRequest)
}

func expectPayload[T any](t *testing.T, l *loopback, event string) T {
	t.Helper()
	deadline := time.After(wait)
	for {
		select {
		case s := <-l.sent:
			if s.event != event {
				continue
			}
			var v T
			require.NoError(t, s.env.Decode(&v))
			return v
		case <-deadline:
			t.Fatalf("no %s sent", event)
		}
	}
}

func readyBridge(t *testing.T, relay *loopback, opts ...Option) *Bridge {
	t.Helper()
	b := New(relay, DefaultConfig(), logging.NewNop(), opts...)
	t.Cleanup(b.Close)
	relay.deliver(t, types.EventExecutorReady, types.ReadyNotice{ExecutorID: "exec_test", PoolSize: 1})
	require.True(t, b.Ready())
	return b
}

type callResult struct {
	value interface{}
	err   error
}

func callAsync(b *Bridge, source string, opts ...CallOption) <-chan callResult {
	out := make(chan callResult, 1)
	go func() {
		v, err := b.CallRemote(context.Background(), source, opts...)
		out <- callResult{v, err}
	}()
	return out
}

func await(t *testing.T, ch <-chan callResult) callResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(wait):
		t.Fatal("call never returned")
		return callResult{}
	}
}

func TestCallRemoteResolvesResult(t *testing.T) {
	relay := newLoopback()
	b := readyBridge(t, relay)

	pending := callAsync(b, "return 42")
	req := relay.request(t)
	assert.Equal(t, "return 42", req.SourceText)
	assert.Regexp(t, `^run_[0-9A-Z]{26}$`, req.RunID)

	relay.deliver(t, types.EventExecuteResult, types.ExecutionResponse{Kind: types.KindResult, RunID: req.RunID, Value: 42})

	r := await(t, pending)
	require.NoError(t, r.err)
	assert.EqualValues(t, 42, r.value)

	assert.Zero(t, relay.listeners(types.EventExecuteResult))
	assert.Zero(t, relay.listeners(types.EventExecuteError))
}

func TestCallRemoteTargetsExecutorRoom(t *testing.T) {
	relay := newLoopback()
	b := readyBridge(t, relay)

	pending := callAsync(b, "return 1")
	var s sent
	select {
	case s = <-relay.sent:
	case <-time.After(wait):
		t.Fatal("nothing sent")
	}
	assert.Equal(t, []string{types.RoomSandbox}, s.rooms)

	var req types.ExecutionRequest
	require.NoError(t, s.env.Decode(&req))
	relay.deliver(t, types.EventExecuteResult, types.ExecutionResponse{Kind: types.KindResult, RunID: req.RunID, Value: 1})
	require.NoError(t, await(t, pending).err)
}

func TestCallRemoteRelaysRemoteError(t *testing.T) {
	relay := newLoopback()
	b := readyBridge(t, relay)

	pending := callAsync(b, "throw new Error('boom')")
	req := relay.request(t)
	relay.deliver(t, types.EventExecuteError, types.ExecutionResponse{Kind: types.KindError, RunID: req.RunID, Message: "Error: boom"})

	r := await(t, pending)
	var remote *RemoteExecutionError
	require.True(t, errors.As(r.err, &remote), "got %v", r.err)
	assert.Equal(t, "Error: boom", remote.Message)
	assert.Equal(t, req.RunID, remote.RunID)
	assert.False(t, IsTransportFailure(r.err))
}

func TestCallRemoteTimesOutAndCancels(t *testing.T) {
	relay := newLoopback()
	b := readyBridge(t, relay)

	start := time.Now()
	pending := callAsync(b, "while (true) {}", WithTimeout(50*time.Millisecond))
	req := relay.request(t)

	r := await(t, pending)
	elapsed := time.Since(start)

	var timeout *TimeoutError
	require.True(t, errors.As(r.err, &timeout), "got %v", r.err)
	assert.Equal(t, req.RunID, timeout.RunID)
	assert.Equal(t, 50*time.Millisecond, timeout.Timeout)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, 250*time.Millisecond)
	assert.True(t, IsTransportFailure(r.err))

	cancel := expectPayload[types.CancelRequest](t, relay, types.EventCancelRequest)
	assert.Equal(t, req.RunID, cancel.RunID)

	assert.Zero(t, relay.listeners(types.EventExecuteResult))
	assert.Zero(t, relay.listeners(types.EventExecuteError))

	// A response arriving after the timeout finds nobody listening.
	relay.deliver(t, types.EventExecuteResult, types.ExecutionResponse{Kind: types.KindResult, RunID: req.RunID, Value: 1})
}

func TestConcurrentCallsDoNotCrossResolve(t *testing.T) {
	relay := newLoopback()
	b := readyBridge(t, relay)

	first := callAsync(b, "return 'first'")
	firstReq := relay.request(t)
	second := callAsync(b, "return 'second'")
	secondReq := relay.request(t)
	require.NotEqual(t, firstReq.RunID, secondReq.RunID)

	// Reply out of order.
	relay.deliver(t, types.EventExecuteResult, types.ExecutionResponse{Kind: types.KindResult, RunID: secondReq.RunID, Value: "second"})
	relay.deliver(t, types.EventExecuteResult, types.ExecutionResponse{Kind: types.KindResult, RunID: firstReq.RunID, Value: "first"})

	r2 := await(t, second)
	r1 := await(t, first)
	require.NoError(t, r1.err)
	require.NoError(t, r2.err)
	assert.Equal(t, "first", r1.value)
	assert.Equal(t, "second", r2.value)
}

func TestDuplicateResponsesAreIgnored(t *testing.T) {
	relay := newLoopback()
	b := readyBridge(t, relay)

	pending := callAsync(b, "return 1")
	req := relay.request(t)

	// Both arrive before the caller wakes up; only the first counts.
	relay.deliver(t, types.EventExecuteResult, types.ExecutionResponse{Kind: types.KindResult, RunID: req.RunID, Value: 1})
	relay.deliver(t, types.EventExecuteResult, types.ExecutionResponse{Kind: types.KindResult, RunID: req.RunID, Value: 2})
	relay.deliver(t, types.EventExecuteError, types.ExecutionResponse{Kind: types.KindError, RunID: req.RunID, Message: "late"})

	r := await(t, pending)
	require.NoError(t, r.err)
	assert.EqualValues(t, 1, r.value)

	relay.deliver(t, types.EventExecuteResult, types.ExecutionResponse{Kind: types.KindResult, RunID: req.RunID, Value: 3})

	next := callAsync(b, "return 4")
	nextReq := relay.request(t)
	relay.deliver(t, types.EventExecuteResult, types.ExecutionResponse{Kind: types.KindResult, RunID: nextReq.RunID, Value: 4})
	r = await(t, next)
	require.NoError(t, r.err)
	assert.EqualValues(t, 4, r.value)
}

func TestCallRemoteBeforeReady(t *testing.T) {
	relay := newLoopback()
	b := New(relay, DefaultConfig(), logging.NewNop())
	defer b.Close()

	_, err := b.CallRemote(context.Background(), "return 1")
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Empty(t, relay.sent)
}

func TestWaitReadyProbesUntilAnswered(t *testing.T) {
	relay := newLoopback()
	cfg := DefaultConfig()
	cfg.ProbeInterval = 10 * time.Millisecond
	b := New(relay, cfg, logging.NewNop())
	defer b.Close()

	var probes int
	var mu sync.Mutex
	relay.setOnEmit(func(event string, _ types.Envelope) {
		if event != types.EventReadyProbe {
			return
		}
		mu.Lock()
		probes++
		n := probes
		mu.Unlock()
		if n == 3 {
			go relay.deliver(t, types.EventExecutorReady, types.ReadyNotice{ExecutorID: "exec_1", PoolSize: 2})
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	require.NoError(t, b.WaitReady(ctx))
	assert.True(t, b.Ready())
	assert.Equal(t, "exec_1", b.ExecutorID())

	require.NoError(t, b.WaitReady(ctx), "already ready")
}

func TestWaitReadyHonorsContext(t *testing.T) {
	relay := newLoopback()
	cfg := DefaultConfig()
	cfg.ProbeInterval = 10 * time.Millisecond
	b := New(relay, cfg, logging.NewNop())
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	err := b.WaitReady(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, b.Ready())
}

func TestCallRemoteConnectionError(t *testing.T) {
	relay := newLoopback()
	b := readyBridge(t, relay)

	relay.mu.Lock()
	relay.emitErr = &client.ConnectionError{Op: "emit", Event: types.EventExecuteRequest, Attempts: 10, Err: errors.New("refused")}
	relay.mu.Unlock()

	_, err := b.CallRemote(context.Background(), "return 1")
	var connErr *client.ConnectionError
	require.True(t, errors.As(err, &connErr), "got %v", err)
	assert.True(t, IsTransportFailure(err))
	assert.Zero(t, relay.listeners(types.EventExecuteResult))
}

func TestCallRemoteHonorsContext(t *testing.T) {
	relay := newLoopback()
	b := readyBridge(t, relay)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := b.CallRemote(ctx, "while (true) {}")
		done <- err
	}()
	req := relay.request(t)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(wait):
		t.Fatal("call ignored cancellation")
	}
	assert.Equal(t, req.RunID, expectPayload[types.CancelRequest](t, relay, types.EventCancelRequest).RunID)
}

func TestBreakerOpensOnTimeoutsOnly(t *testing.T) {
	relay := newLoopback()
	breaker := NewBreaker(2, time.Minute, logging.NewNop())
	metrics := monitoring.NewMetrics()
	b := readyBridge(t, relay, WithBreaker(breaker), WithMetrics(metrics))

	// Remote exceptions never count.
	for i := 0; i < 3; i++ {
		pending := callAsync(b, "throw 1")
		req := relay.request(t)
		relay.deliver(t, types.EventExecuteError, types.ExecutionResponse{Kind: types.KindError, RunID: req.RunID, Message: "1"})
		await(t, pending)
	}
	assert.Equal(t, resilience.StateClosed, breaker.State())

	for i := 0; i < 2; i++ {
		_, err := b.CallRemote(context.Background(), "while (true) {}", WithTimeout(10*time.Millisecond))
		require.Error(t, err)
	}
	assert.Equal(t, resilience.StateOpen, breaker.State())

	_, err := b.CallRemote(context.Background(), "return 1")
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)

	snapshot := metrics.Snapshot()
	assert.Equal(t, int64(5), snapshot.RemoteCalls)
	assert.Equal(t, int64(2), snapshot.RemoteTimeouts)
}

func TestCloseStopsReadinessListener(t *testing.T) {
	relay := newLoopback()
	b := New(relay, DefaultConfig(), logging.NewNop())
	require.Equal(t, 1, relay.listeners(types.EventExecutorReady))

	require.Equal(t, 1, relay.listeners(types.EventRoomState))

	b.Close()
	b.Close()
	assert.Zero(t, relay.listeners(types.EventExecutorReady))
	assert.Zero(t, relay.listeners(types.EventRoomState))
}

func TestReadinessWithdrawnWhenExecutorLeaves(t *testing.T) {
	relay := newLoopback()
	b := readyBridge(t, relay)

	relay.deliver(t, types.EventRoomState, types.RoomState{
		Rooms: map[string][]string{types.RoomSandbox: {"p1"}, types.RoomHarness: {"p2"}},
		Total: 2,
	})
	assert.True(t, b.Ready(), "executor still present")

	relay.deliver(t, types.EventRoomState, types.RoomState{
		Rooms: map[string][]string{types.RoomHarness: {"p2"}},
		Total: 1,
	})
	assert.False(t, b.Ready())
	assert.Empty(t, b.ExecutorID())

	_, err := b.CallRemote(context.Background(), "return 1")
	assert.ErrorIs(t, err, ErrNotReady)

	relay.deliver(t, types.EventExecutorReady, types.ReadyNotice{ExecutorID: "exec_next", PoolSize: 1})
	assert.True(t, b.Ready())
	assert.Equal(t, "exec_next", b.ExecutorID())
}
