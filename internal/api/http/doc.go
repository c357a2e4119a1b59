// Package http holds the gin handlers for the relay's status endpoints.
package http
