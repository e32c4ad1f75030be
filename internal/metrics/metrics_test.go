package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_CountAndExpose(t *testing.T) {
	m := New()
	m.CallTransitions.WithLabelValues("accept", "answered").Inc()
	m.CallTransitions.WithLabelValues("accept", "answered").Inc()
	m.DroppedMessages.Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CallTransitions.WithLabelValues("accept", "answered")))

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "yoocall_call_transitions_total")
	assert.Contains(t, w.Body.String(), "yoocall_dropped_messages_total 1")
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	a, b := New(), New()
	a.PulseTimeouts.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.PulseTimeouts))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.PulseTimeouts))
}
