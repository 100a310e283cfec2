package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_DefaultNamespace(t *testing.T) {
	m := NewMetrics("")
	require.NotNil(t, m)

	m.RecordSessionOpened()
	m.RecordBroadcast()

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "linglamp_sessions_active")
	assert.Contains(t, names, "linglamp_broadcasts_total")
}

func TestMetrics_SessionLifecycle(t *testing.T) {
	m := NewMetrics("test")
	m.RecordSessionOpened()
	m.RecordSessionOpened()
	m.RecordSessionClosed("device reconnect")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsActive))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SessionsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionCleanups.WithLabelValues("device reconnect")))
}

func TestMetrics_RecognizerAndTurns(t *testing.T) {
	m := NewMetrics("test")
	m.RecordRecognizerReset("health")
	m.RecordRecognizerReset("health")
	m.RecordRecognizerStartFailure()
	m.RecordTurn("wake")
	m.RecordTurn("command")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RecognizerResets.WithLabelValues("health")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecognizerStartFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TurnsTotal.WithLabelValues("wake")))
}

func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordSessionOpened()
		m.RecordSessionClosed("x")
		m.RecordRecognizerReset("x")
		m.RecordRecognizerStartFailure()
		m.RecordTurn("x")
		m.RecordBroadcast()
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics("test")
	m.RecordBroadcast()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_broadcasts_total 1")
}
