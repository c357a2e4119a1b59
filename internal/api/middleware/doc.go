// Package middleware provides the gin middleware in front of the relay:
// CORS for browser-hosted plugin UIs and a per-IP handshake rate limit.
package middleware
