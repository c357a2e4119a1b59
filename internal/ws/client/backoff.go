package client

import "time"

// backoffDelay returns the wait before reconnect attempt n (zero based):
// base doubled n times, capped at max.
func backoffDelay(base, max time.Duration, n int) time.Duration {
	delay := base
	for i := 0; i < n && delay < max; i++ {
		delay *= 2
	}
	if delay > max {
		return max
	}
	return delay
}
