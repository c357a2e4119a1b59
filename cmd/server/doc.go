// Package main runs the relay server on its own.
//
// The relay routes envelopes between the sandbox, harness, build-watcher
// and observer rooms and exposes its status over HTTP.
//
// Configuration:
//   - Environment variables (PORT, RELAY_PORT_OFFSET, HOST, RELAY_*, LOG_*)
//   - An optional YAML or TOML file (--config) overlaying the environment
//   - CLI flags overriding both
//
// Usage:
//
//	# Relay on PORT+1 (3001 by default)
//	./server
//
//	# Explicit base port with development logging
//	./server --port 4000 --dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
