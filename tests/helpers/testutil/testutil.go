// Package testutil provides relay fixtures shared by package tests.
package testutil

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/GriffinCanCode/pluginbridge/internal/infrastructure/logging"
	"github.com/GriffinCanCode/pluginbridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/pluginbridge/internal/shared/types"
	"github.com/GriffinCanCode/pluginbridge/internal/ws"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// Relay is a hub served by an httptest server.
type Relay struct {
	Hub     *ws.Hub
	Metrics *monitoring.Metrics
	Server  *httptest.Server
}

// StartRelay serves a hub for the duration of the test.
func StartRelay(t *testing.T, cfg ws.Config) *Relay {
	t.Helper()

	metrics := monitoring.NewMetrics()
	hub := ws.NewHub(cfg, logging.NewNop(), metrics)
	server := httptest.NewServer(hub)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = hub.Shutdown(ctx)
		server.Close()
	})

	return &Relay{Hub: hub, Metrics: metrics, Server: server}
}

// URL returns the relay endpoint without a room claim.
func (r *Relay) URL() string {
	return "ws" + strings.TrimPrefix(r.Server.URL, "http")
}

// RoomURL returns the relay endpoint claiming room.
func (r *Relay) RoomURL(room string) string {
	return r.URL() + "?room=" + room
}

// Dial opens a raw connection in room and waits until the hub has
// registered it.
func (r *Relay) Dial(t *testing.T, room string) *websocket.Conn {
	t.Helper()

	before := len(r.Hub.Rooms()[room])
	conn, resp, err := websocket.DefaultDialer.Dial(r.RoomURL(room), nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool {
		return len(r.Hub.Rooms()[room]) > before
	}, 2*time.Second, 5*time.Millisecond, "connection never joined %s", room)
	return conn
}

// DialStatus attempts a handshake and returns the HTTP status it got.
func (r *Relay) DialStatus(t *testing.T, room string, header http.Header) int {
	t.Helper()

	url := r.URL()
	if room != "" {
		url = r.RoomURL(room)
	}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		conn.Close()
		return http.StatusSwitchingProtocols
	}
	require.NotNil(t, resp, "dial failed without a response: %v", err)
	defer resp.Body.Close()
	return resp.StatusCode
}

// Send writes an envelope to conn.
func Send(t *testing.T, conn *websocket.Conn, event string, payload interface{}, targetRooms ...string) []byte {
	t.Helper()

	env, err := types.NewEnvelope(event, payload, targetRooms...)
	require.NoError(t, err)
	frame, err := env.Encode()
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
	return frame
}

// ReadFrame returns the next frame whose event is event, skipping others.
func ReadFrame(t *testing.T, conn *websocket.Conn, event string, timeout time.Duration) ([]byte, types.Envelope) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	defer conn.SetReadDeadline(time.Time{})

	for {
		_, frame, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s", event)
		env, err := types.DecodeEnvelope(frame)
		require.NoError(t, err)
		if env.Event == event {
			return frame, env
		}
	}
}

// ReadUntil collects the events seen on conn up to and including stop.
func ReadUntil(t *testing.T, conn *websocket.Conn, stop string, timeout time.Duration) []string {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	defer conn.SetReadDeadline(time.Time{})

	var seen []string
	for {
		_, frame, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s", stop)
		env, err := types.DecodeEnvelope(frame)
		require.NoError(t, err)
		seen = append(seen, env.Event)
		if env.Event == stop {
			return seen
		}
	}
}
