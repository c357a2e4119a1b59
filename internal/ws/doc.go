// Package ws implements the relay server.
//
// Every connection claims one room at handshake, through the room query
// parameter or the X-Relay-Room header, and keeps it until it closes.
// Frames are JSON envelopes:
//
//	{"event": "EXECUTE_REQUEST", "data": {...}, "targetRooms": ["sandbox"]}
//
// An envelope without targetRooms goes to every other connection; with it,
// only to members of the listed rooms. The sender never receives its own
// frame, and frames are forwarded byte for byte.
//
// Membership changes broadcast ROOM_STATE to everyone. The hub pings each
// connection every PingInterval and closes any that did not answer the
// previous ping. Malformed envelopes are logged and dropped.
//
// Example Usage:
//
//	hub := ws.NewHub(ws.DefaultConfig(), logger, metrics)
//	router.GET("/relay", hub.HandleConnection)
package ws
