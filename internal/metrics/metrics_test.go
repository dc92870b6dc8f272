package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthOperation_LabelsResult(t *testing.T) {
	m := New()
	m.AuthOperation("login", nil)
	m.AuthOperation("login", nil)
	m.AuthOperation("login", errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.authOps.WithLabelValues("login", ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.authOps.WithLabelValues("login", ResultError)))
}

func TestGauges(t *testing.T) {
	m := New()
	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.UserOnline()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.connections))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.onlineUsers))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.AuthOperation("refresh", nil)
		m.ConnectionOpened()
		m.UserOffline()
		m.RealtimeEvent("room:join")
		m.Dropped()
		m.Purged(3)
	})
}

func TestHandler_ServesExposition(t *testing.T) {
	m := New()
	m.RealtimeEvent("message:room")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `authrt_realtime_events_total{event="message:room"} 1`)
}
