/*
Package resilience provides circuit breaker implementation for graceful degradation.

# Overview

This package implements the circuit breaker pattern. The correlation bridge
uses it to stop sending execution requests to a sandbox host that has stopped
answering, so callers get an immediate error instead of waiting out one
timeout per call.

# Features

- Three-state circuit breaker (Closed, Open, Half-Open)
- Consecutive-failure threshold and cooldown
- Pluggable failure classifier (IsFailure)
- Allow/Record split for callers that cannot wrap work in a closure
- State change callbacks for logging

# Usage

	// Create a circuit breaker
	breaker := resilience.New("sandbox", resilience.Settings{
		Threshold: 3,
		Cooldown:  10 * time.Second,
		IsFailure: func(err error) bool {
			var remote *bridge.RemoteExecutionError
			return err != nil && !errors.As(err, &remote)
		},
	})

	if err := breaker.Allow(); err != nil {
		return nil, err
	}
	value, err := call()
	breaker.Record(err)

# States

- Closed: Normal operation, requests pass through
- Open: Service unavailable, requests fail immediately
- Half-Open: Testing if service recovered, limited requests allowed

# Pattern

The circuit breaker transitions between states based on success/failure rates:

	Closed --[failures]-> Open --[cooldown]-> Half-Open --[successes]-> Closed
	                                           |
	                                    [failure]
	                                           |
	                                           v
	                                         Open
*/
package resilience
