package main

import (
	"errors"

	"github.com/GriffinCanCode/pluginbridge/internal/bridge"
	"github.com/GriffinCanCode/pluginbridge/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/pluginbridge/internal/status"
	"github.com/GriffinCanCode/pluginbridge/internal/ws/client"
)

// Exit codes.
const (
	exitFailure    = 1
	exitTimeout    = 2
	exitRemote     = 3
	exitConnection = 4
	exitUsage      = 64
)

type usageError string

func (e usageError) Error() string { return string(e) }

func exitCode(err error) int {
	var (
		usage     usageError
		timeout   *bridge.TimeoutError
		remote    *bridge.RemoteExecutionError
		conn      *client.ConnectionError
		statusErr *status.StatusError
	)
	switch {
	case err == nil:
		return 0
	case errors.As(err, &usage):
		return exitUsage
	case errors.As(err, &timeout):
		return exitTimeout
	case errors.As(err, &remote):
		return exitRemote
	case errors.As(err, &conn),
		errors.As(err, &statusErr),
		errors.Is(err, bridge.ErrNotReady),
		errors.Is(err, status.ErrUnhealthy),
		errors.Is(err, resilience.ErrCircuitOpen),
		errors.Is(err, resilience.ErrTooManyRequests):
		return exitConnection
	}
	return exitFailure
}
