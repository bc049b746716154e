// Package obs carries the Prometheus metrics surface and its optional
// HTTP listener.
package obs

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	reg *prometheus.Registry

	RequestsTotal  *prometheus.CounterVec // kind=Start_Alarm|Change_Alarm|...
	InvalidTotal   *prometheus.CounterVec // reason=duplicate_id|stale_target; input syntax errors are not counted
	EmissionsTotal prometheus.Counter     // periodic prints only

	ActiveAlarms prometheus.Gauge
	LiveWorkers  prometheus.Gauge
	BufferDepth  prometheus.Gauge
}

// NewMetrics builds and registers the metric set on a private registry so
// tests can construct it repeatedly without duplicate-registration panics.
func NewMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alarmd_requests_total",
				Help: "Requests admitted by the consumer, by kind",
			},
			[]string{"kind"},
		),
		InvalidTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alarmd_invalid_requests_total",
				Help: "Requests dropped with a diagnostic, by reason",
			},
			[]string{"reason"},
		),
		EmissionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alarmd_emissions_total",
			Help: "Periodic alarm message emissions",
		}),
		ActiveAlarms: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "alarmd_active_alarms",
			Help: "Alarms currently in the active table",
		}),
		LiveWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "alarmd_display_workers",
			Help: "Display workers currently live",
		}),
		BufferDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "alarmd_request_buffer_depth",
			Help: "Requests waiting in the bounded hand-off buffer",
		}),
	}

	m.reg.MustRegister(
		m.RequestsTotal,
		m.InvalidTotal,
		m.EmissionsTotal,
		m.ActiveAlarms,
		m.LiveWorkers,
		m.BufferDepth,
	)
	return m
}

// Registry exposes the private registry for the HTTP handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }
