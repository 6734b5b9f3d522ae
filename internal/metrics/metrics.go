// Package metrics exposes Prometheus instrumentation for the check engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	ChecksTotal        *prometheus.CounterVec
	CheckDuration      *prometheus.HistogramVec
	IncidentsOpen      prometheus.Gauge
	NotificationsTotal *prometheus.CounterVec
	ScheduledJobs      prometheus.Gauge
	Registry           *prometheus.Registry
}

// New creates and registers the collectors on a fresh registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "uptimo"
	}
	m := &Metrics{
		ChecksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checks_total",
			Help:      "Completed checks by monitor type and result status.",
		}, []string{"type", "status"}),
		CheckDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "check_duration_seconds",
			Help:      "Wall-clock duration of check execution.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
		IncidentsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "incidents_open",
			Help:      "Number of currently open incidents.",
		}),
		NotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification delivery attempts by channel type and outcome.",
		}, []string{"channel", "outcome"}),
		ScheduledJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduled_jobs",
			Help:      "Number of monitors with an active schedule.",
		}),
		Registry: prometheus.NewRegistry(),
	}

	m.Registry.MustRegister(
		m.ChecksTotal,
		m.CheckDuration,
		m.IncidentsOpen,
		m.NotificationsTotal,
		m.ScheduledJobs,
	)
	return m
}
