// Package room keeps the relay's membership table: which connection sits in
// which role room. It performs no I/O; the relay hub is its only writer.
package room
