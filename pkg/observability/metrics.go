package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. All record methods are safe on a nil
// receiver so components can be built without metrics in tests.
type Metrics struct {
	// Lifecycle metrics
	CommitsTotal     *prometheus.CounterVec
	CommitDuration   prometheus.Histogram
	SoftDeletesTotal *prometheus.CounterVec
	RestoresTotal    *prometheus.CounterVec

	// Audit metrics
	AuditEntriesTotal *prometheus.CounterVec
	AuditDiffFailures *prometheus.CounterVec

	// Auth audit metrics
	AuthAuditEntriesTotal *prometheus.CounterVec
	AuthAuditPurgedTotal  prometheus.Counter

	// Maintenance metrics
	MaintenanceRunsTotal   *prometheus.CounterVec
	MaintenanceRunDuration *prometheus.HistogramVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		CommitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tally_session_commits_total",
				Help: "Total number of unit-of-work commits",
			},
			[]string{"status"},
		),
		CommitDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tally_session_commit_duration_seconds",
				Help:    "Unit-of-work commit duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		SoftDeletesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tally_soft_deletes_total",
				Help: "Total number of entities soft-deleted, including cascaded dependents",
			},
			[]string{"entity_type"},
		),
		RestoresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tally_restores_total",
				Help: "Total number of restore attempts by result",
			},
			[]string{"entity_type", "result"},
		),

		AuditEntriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tally_audit_entries_total",
				Help: "Total number of audit log entries written",
			},
			[]string{"entity_type", "action"},
		),
		AuditDiffFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tally_audit_diff_failures_total",
				Help: "Total number of audit entries written with a degraded diff",
			},
			[]string{"entity_type"},
		),

		AuthAuditEntriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tally_auth_audit_entries_total",
				Help: "Total number of authentication audit events recorded",
			},
			[]string{"event_type", "success"},
		),
		AuthAuditPurgedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tally_auth_audit_purged_total",
				Help: "Total number of authentication audit entries removed by retention",
			},
		),

		MaintenanceRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tally_maintenance_runs_total",
				Help: "Total number of periodic maintenance runs",
			},
			[]string{"job", "status"},
		),
		MaintenanceRunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tally_maintenance_run_duration_seconds",
				Help:    "Periodic maintenance run duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"job"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tally_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tally_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.CommitsTotal,
		m.CommitDuration,
		m.SoftDeletesTotal,
		m.RestoresTotal,
		m.AuditEntriesTotal,
		m.AuditDiffFailures,
		m.AuthAuditEntriesTotal,
		m.AuthAuditPurgedTotal,
		m.MaintenanceRunsTotal,
		m.MaintenanceRunDuration,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// RecordCommit records a unit-of-work commit
func (m *Metrics) RecordCommit(err error, duration time.Duration) {
	if m == nil {
		return
	}
	m.CommitsTotal.WithLabelValues(statusLabel(err)).Inc()
	m.CommitDuration.Observe(duration.Seconds())
}

// RecordSoftDelete records a soft-deleted entity
func (m *Metrics) RecordSoftDelete(entityType string) {
	if m == nil {
		return
	}
	m.SoftDeletesTotal.WithLabelValues(entityType).Inc()
}

// RecordRestore records a restore attempt outcome
func (m *Metrics) RecordRestore(entityType, result string) {
	if m == nil {
		return
	}
	m.RestoresTotal.WithLabelValues(entityType, result).Inc()
}

// RecordAuditEntry records an appended audit entry
func (m *Metrics) RecordAuditEntry(entityType, action string, degraded bool) {
	if m == nil {
		return
	}
	m.AuditEntriesTotal.WithLabelValues(entityType, action).Inc()
	if degraded {
		m.AuditDiffFailures.WithLabelValues(entityType).Inc()
	}
}

// RecordAuthEvent records an authentication audit event
func (m *Metrics) RecordAuthEvent(eventType string, success bool) {
	if m == nil {
		return
	}
	s := "false"
	if success {
		s = "true"
	}
	m.AuthAuditEntriesTotal.WithLabelValues(eventType, s).Inc()
}

// RecordPurged records entries removed by retention
func (m *Metrics) RecordPurged(count int64) {
	if m == nil || count <= 0 {
		return
	}
	m.AuthAuditPurgedTotal.Add(float64(count))
}

// RecordMaintenanceRun records one periodic maintenance run
func (m *Metrics) RecordMaintenanceRun(job string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	m.MaintenanceRunsTotal.WithLabelValues(job, statusLabel(err)).Inc()
	m.MaintenanceRunDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// RecordMaintenanceSkipped records a run skipped because another instance
// holds the job lock
func (m *Metrics) RecordMaintenanceSkipped(job string) {
	if m == nil {
		return
	}
	m.MaintenanceRunsTotal.WithLabelValues(job, "skipped").Inc()
}

// UpdateDBStats updates database connection metrics
func (m *Metrics) UpdateDBStats(active, idle int) {
	if m == nil {
		return
	}
	m.DBConnectionsActive.Set(float64(active))
	m.DBConnectionsIdle.Set(float64(idle))
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// MetricsHandler returns an HTTP handler for the given registry
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
