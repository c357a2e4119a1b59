package monitoring

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstancesDoNotCollide(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()

	a.ConnectionOpened("sandbox")

	assert.Equal(t, 1.0, testutil.ToFloat64(a.RelayConnections.WithLabelValues("sandbox")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.RelayConnections.WithLabelValues("sandbox")))
}

func TestSnapshotTracksRelayAndCalls(t *testing.T) {
	m := NewMetrics()

	m.ConnectionOpened("sandbox")
	m.ConnectionOpened("harness")
	m.ConnectionClosed("harness")
	m.RecordEnvelope("EXECUTE_REQUEST")
	m.IncMalformed()
	m.IncPruned()
	m.RecordRemoteCall(OutcomeTimeout, 50*time.Millisecond)
	m.RecordRemoteCall(OutcomeResult, time.Millisecond)

	snap := m.Snapshot()
	assert.Equal(t, int64(1), snap.ActiveConnections)
	assert.Equal(t, int64(1), snap.EnvelopesRouted)
	assert.Equal(t, int64(1), snap.MalformedDropped)
	assert.Equal(t, int64(1), snap.Pruned)
	assert.Equal(t, int64(2), snap.RemoteCalls)
	assert.Equal(t, int64(1), snap.RemoteTimeouts)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.ConnectionOpened("sandbox")
		m.RecordEnvelope("x")
		m.RecordRemoteCall(OutcomeResult, time.Millisecond)
		m.RecordExecution(OutcomeError, time.Millisecond)
		m.RecordTask("build", "ok", time.Millisecond)
		NewTimer(m).Stop(OutcomeResult)
	})
	assert.Equal(t, MetricsSnapshot{}, m.Snapshot())

	rec := httptest.NewRecorder()
	require.NotPanics(t, func() {
		m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := NewMetrics()
	m.RecordEnvelope("ROOM_STATE")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `bridge_relay_envelopes_total{event="ROOM_STATE"} 1`))
	assert.True(t, strings.Contains(body, "bridge_uptime_seconds"))
}
