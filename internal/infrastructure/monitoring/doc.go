/*
Package monitoring provides Prometheus metrics for the relay, the bridge,
the executor and the task orchestrator.

# Overview

Every Metrics value owns a private prometheus.Registry, so a relay started
by a test does not collide with one started by another test. Components
accept a nil *Metrics and then record nothing.

# Metrics

  - bridge_relay_connections{room}: open connections per room
  - bridge_relay_envelopes_total{event}: routed envelopes
  - bridge_relay_malformed_total: dropped malformed envelopes
  - bridge_relay_pruned_total: connections closed by the liveness probe
  - bridge_remote_calls_total{outcome}: bridge calls (result, error, timeout, connection)
  - bridge_executor_runs_total{outcome}: sandbox executions
  - bridge_task_runs_total{task,status}: orchestrated tasks

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
*/
package monitoring
