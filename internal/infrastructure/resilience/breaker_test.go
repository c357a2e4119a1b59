package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUnreachable = errors.New("unreachable")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func fail() (interface{}, error)    { return nil, errUnreachable }
func succeed() (interface{}, error) { return "ok", nil }

func TestBreakerStateTransitions(t *testing.T) {
	tests := []struct {
		name          string
		threshold     uint32
		requests      []bool // true = success, false = failure
		expectedState State
	}{
		{
			name:          "stays closed on successes",
			threshold:     3,
			requests:      []bool{true, true, true},
			expectedState: StateClosed,
		},
		{
			name:          "opens after consecutive failures",
			threshold:     3,
			requests:      []bool{false, false, false},
			expectedState: StateOpen,
		},
		{
			name:          "success resets the streak",
			threshold:     3,
			requests:      []bool{false, false, true, false, false},
			expectedState: StateClosed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			breaker := New("test", Settings{Threshold: tt.threshold, Cooldown: time.Minute})

			for _, success := range tt.requests {
				if success {
					_, _ = breaker.Execute(succeed)
				} else {
					_, _ = breaker.Execute(fail)
				}
			}

			assert.Equal(t, tt.expectedState, breaker.State())
		})
	}
}

func TestBreakerCounts(t *testing.T) {
	breaker := New("test", Settings{Threshold: 10})

	_, err := breaker.Execute(succeed)
	require.NoError(t, err)
	_, err = breaker.Execute(fail)
	assert.ErrorIs(t, err, errUnreachable)

	counts := breaker.Counts()
	assert.Equal(t, uint32(2), counts.Requests)
	assert.Equal(t, uint32(1), counts.TotalSuccesses)
	assert.Equal(t, uint32(1), counts.TotalFailures)
	assert.Equal(t, uint32(1), counts.ConsecutiveFailures)
	assert.Equal(t, uint32(0), counts.ConsecutiveSuccesses)
}

func TestBreakerOpenFailsFast(t *testing.T) {
	breaker := New("test", Settings{Threshold: 2, Cooldown: time.Minute})

	_, _ = breaker.Execute(fail)
	_, _ = breaker.Execute(fail)

	called := false
	_, err := breaker.Execute(func() (interface{}, error) {
		called = true
		return "ok", nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	var transitions []string
	breaker := New("sandbox", Settings{
		Threshold: 1,
		Cooldown:  time.Second,
		Probes:    2,
		Now:       clock.Now,
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	_, _ = breaker.Execute(fail)
	require.Equal(t, StateOpen, breaker.State())

	clock.Advance(time.Second)
	require.Equal(t, StateHalfOpen, breaker.State())

	_, err := breaker.Execute(succeed)
	require.NoError(t, err)
	assert.Equal(t, StateHalfOpen, breaker.State())

	_, err = breaker.Execute(succeed)
	require.NoError(t, err)
	assert.Equal(t, StateClosed, breaker.State())

	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	breaker := New("sandbox", Settings{Threshold: 1, Cooldown: time.Second, Now: clock.Now})

	_, _ = breaker.Execute(fail)
	clock.Advance(time.Second)
	_, _ = breaker.Execute(fail)

	assert.Equal(t, StateOpen, breaker.State())
}

func TestBreakerHalfOpenLimitsProbes(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	breaker := New("sandbox", Settings{Threshold: 1, Cooldown: time.Second, Probes: 1, Now: clock.Now})

	_, _ = breaker.Execute(fail)
	clock.Advance(time.Second)

	require.NoError(t, breaker.Allow())
	assert.ErrorIs(t, breaker.Allow(), ErrTooManyRequests)
}

func TestBreakerIsFailureClassifier(t *testing.T) {
	remote := errors.New("remote threw")
	breaker := New("sandbox", Settings{
		Threshold: 1,
		IsFailure: func(err error) bool { return err != nil && !errors.Is(err, remote) },
	})

	for i := 0; i < 5; i++ {
		_, err := breaker.Execute(func() (interface{}, error) { return nil, remote })
		assert.ErrorIs(t, err, remote)
	}
	assert.Equal(t, StateClosed, breaker.State())
}

func TestBreakerRecordsPanics(t *testing.T) {
	breaker := New("test", Settings{Threshold: 1})

	assert.Panics(t, func() {
		_, _ = breaker.Execute(func() (interface{}, error) { panic("boom") })
	})
	assert.Equal(t, StateOpen, breaker.State())
}
