package monitoring

import "time"

// Outcome labels shared by the bridge and the executor.
const (
	OutcomeResult     = "result"
	OutcomeError      = "error"
	OutcomeTimeout    = "timeout"
	OutcomeConnection = "connection"
	OutcomeCancelled  = "cancelled"
)

// Timer measures a remote call
type Timer struct {
	start   time.Time
	metrics *Metrics
}

// NewTimer starts a timer for a bridge call
func NewTimer(metrics *Metrics) *Timer {
	return &Timer{
		start:   time.Now(),
		metrics: metrics,
	}
}

// Stop records the elapsed time under outcome and returns it
func (t *Timer) Stop(outcome string) time.Duration {
	elapsed := time.Since(t.start)
	t.metrics.RecordRemoteCall(outcome, elapsed)
	return elapsed
}
