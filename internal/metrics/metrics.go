// Package metrics exposes pipeline counters in the Prometheus format.
//
// Collectors live on a private registry so tests can create as many
// instances as they need; Handler serves that registry at /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dailydrop"

// Prometheus records pipeline activity.
type Prometheus struct {
	registry *prometheus.Registry

	dqRows      *prometheus.CounterVec
	staged      *prometheus.CounterVec
	colsAdded   *prometheus.CounterVec
	cleanRows   *prometheus.CounterVec
	duplicates  *prometheus.CounterVec
	rejected    *prometheus.CounterVec
	runs        *prometheus.CounterVec
	runDuration prometheus.Histogram
}

// New creates the collectors and registers them, together with the Go and
// process collectors, on a fresh registry.
func New() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		dqRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dq_rows_total",
			Help:      "Rows checked by the quality engine, by result.",
		}, []string{"table", "result"}),
		staged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "staged_rows_total",
			Help:      "Rows appended to staging tables.",
		}, []string{"table"}),
		colsAdded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "columns_added_total",
			Help:      "Columns added to staging tables by schema evolution.",
		}, []string{"table"}),
		cleanRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clean_rows_total",
			Help:      "Rows written to clean tables.",
		}, []string{"table"}),
		duplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicates_collapsed_total",
			Help:      "Staged rows superseded by a later version of the same key.",
		}, []string{"table"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_rows_total",
			Help:      "Staged rows rejected by type coercion.",
		}, []string{"table"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished runs by status.",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of pipeline runs.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
	}

	p.registry.MustRegister(
		p.dqRows, p.staged, p.colsAdded, p.cleanRows,
		p.duplicates, p.rejected, p.runs, p.runDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return p
}

// ObserveQuality records a table's validation counts.
func (p *Prometheus) ObserveQuality(table string, checked, failed int) {
	p.dqRows.WithLabelValues(table, "passed").Add(float64(checked - failed))
	p.dqRows.WithLabelValues(table, "failed").Add(float64(failed))
}

// ObserveStaging records a staging append.
func (p *Prometheus) ObserveStaging(table string, rows, columnsAdded int) {
	p.staged.WithLabelValues(table).Add(float64(rows))
	p.colsAdded.WithLabelValues(table).Add(float64(columnsAdded))
}

// ObserveCleaning records a clean load.
func (p *Prometheus) ObserveCleaning(table string, written, collapsed, rejected int) {
	p.cleanRows.WithLabelValues(table).Add(float64(written))
	p.duplicates.WithLabelValues(table).Add(float64(collapsed))
	p.rejected.WithLabelValues(table).Add(float64(rejected))
}

// ObserveRun records a finished run.
func (p *Prometheus) ObserveRun(status string, d time.Duration) {
	p.runs.WithLabelValues(status).Inc()
	p.runDuration.Observe(d.Seconds())
}

// Registry returns the underlying registry.
func (p *Prometheus) Registry() *prometheus.Registry { return p.registry }

// Handler serves the registry.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
