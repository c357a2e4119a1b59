// Package lifecycle starts a local development environment as one task run:
//
//	config -> relay -> (executor | watcher) -> ready
//
// Every component is a result of the run, handed to later tasks through the
// run's results instead of living in package state. The ready step waits
// for the relay's health endpoint and then for an executor to answer a
// readiness probe sent from the harness room.
package lifecycle
