// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	CallTransitions     *prometheus.CounterVec
	Connections         prometheus.Gauge
	RelayedMessages     *prometheus.CounterVec
	DroppedMessages     prometheus.Counter
	PulseTimeouts       prometheus.Counter
	TranslationSessions prometheus.Gauge
	TranslationErrors   *prometheus.CounterVec
}

// New builds a fresh registry with the process collectors and every
// yoocall_* collector registered on it.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		CallTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "yoocall_call_transitions_total",
			Help: "Call lifecycle transitions by action and resulting status.",
		}, []string{"action", "status"}),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "yoocall_ws_connections",
			Help: "Open gateway connections.",
		}),
		RelayedMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "yoocall_relayed_messages_total",
			Help: "Signaling messages relayed, by event.",
		}, []string{"event"}),
		DroppedMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "yoocall_dropped_messages_total",
			Help: "Outbound messages dropped on a full client queue.",
		}),
		PulseTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "yoocall_pulse_timeouts_total",
			Help: "Participants reported silent by the liveness monitor.",
		}),
		TranslationSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "yoocall_translation_sessions",
			Help: "Live translation sessions.",
		}),
		TranslationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "yoocall_translation_errors_total",
			Help: "Translation pipeline failures by stage.",
		}, []string{"stage"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.CallTransitions,
		m.Connections,
		m.RelayedMessages,
		m.DroppedMessages,
		m.PulseTimeouts,
		m.TranslationSessions,
		m.TranslationErrors,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
