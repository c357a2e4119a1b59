// Package server assembles the relay process: the WebSocket hub behind
// /relay and the gin status endpoints beside it.
//
// Routes:
//
//	GET /relay    WebSocket handshake; room from ?room= or X-Relay-Room
//	GET /health   types.Health, 503 while draining
//	GET /rooms    types.RoomState
//	GET /stats    JSON metrics snapshot
//	GET /metrics  Prometheus exposition
package server
