package monitor

import (
	"fmt"

	"github.com/gh-nvat/bluegreen/src/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics mirrors monitoring results as Prometheus series. A nil *Metrics is a no-op.
type Metrics struct {
	registry     *prometheus.Registry
	checks       *prometheus.CounterVec
	responseTime *prometheus.HistogramVec
	availability *prometheus.GaugeVec
	alerts       *prometheus.CounterVec
}

// NewMetrics creates a new metrics set on a private registry
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bluegreen",
			Subsystem: "monitor",
			Name:      "checks_total",
			Help:      "Health checks performed, by endpoint and result.",
		}, []string{"endpoint", "result"}),
		responseTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bluegreen",
			Subsystem: "monitor",
			Name:      "response_time_milliseconds",
			Help:      "Response time of health checks.",
			Buckets:   []float64{25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}, []string{"endpoint"}),
		availability: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "bluegreen",
			Subsystem: "monitor",
			Name:      "availability_percent",
			Help:      "Cumulative availability of an endpoint during the run.",
		}, []string{"endpoint"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bluegreen",
			Subsystem: "monitor",
			Name:      "alerts_total",
			Help:      "Alerts raised, by endpoint.",
		}, []string{"endpoint"}),
	}
	m.registry.MustRegister(m.checks, m.responseTime, m.availability, m.alerts)
	return m
}

// Registry exposes the underlying registry for HTTP exposition
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Observe(ep models.EndpointTarget, ok bool, responseMs, availabilityPct float64) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "error"
	}
	m.checks.WithLabelValues(ep.Path, result).Inc()
	m.responseTime.WithLabelValues(ep.Path).Observe(responseMs)
	m.availability.WithLabelValues(ep.Path).Set(availabilityPct)
}

func (m *Metrics) Alert(ep models.EndpointTarget) {
	if m == nil {
		return
	}
	m.alerts.WithLabelValues(ep.Path).Inc()
}

// WriteTextfile dumps the current values in the node_exporter textfile format
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
