// Package status is the HTTP client for a running relay's /health and
// /rooms endpoints. The bridge CLI uses WaitHealthy before dialing and the
// rooms subcommand prints membership.
package status
