// Package metrics collects per-run counters and writes them as a Prometheus
// textfile for node_exporter style collection.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/congo-pay/txengine/internal/strategy"
)

// OutcomeApplied labels rows that changed the ledger. Rejected rows use their
// failure class name.
const OutcomeApplied = "applied"

// Recorder holds the metrics of one run in its own registry.
type Recorder struct {
	registry *prometheus.Registry

	rows           *prometheus.CounterVec
	strategyChosen *prometheus.GaugeVec
	inputBytes     prometheus.Gauge
	requiredBytes  prometheus.Gauge
	thresholdBytes prometheus.Gauge
	accounts       prometheus.Gauge
	referenced     prometheus.Gauge
	aborted        prometheus.Gauge
	duration       prometheus.Gauge
}

// NewRecorder registers the run metrics under namespace.
func NewRecorder(namespace string) *Recorder {
	registry := prometheus.NewRegistry()

	r := &Recorder{
		registry: registry,

		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_total",
			Help:      "Input rows processed by outcome",
		}, []string{"outcome"}),

		strategyChosen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "strategy",
			Help:      "Processing strategy used by the run (1 for the chosen one)",
		}, []string{"strategy"}),

		inputBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "input_bytes",
			Help:      "Size of the input log",
		}),

		requiredBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "estimate_required_bytes",
			Help:      "Estimated memory needed by the in-memory strategy",
		}),

		thresholdBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "estimate_threshold_bytes",
			Help:      "Memory budget the estimate was compared against",
		}),

		accounts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "accounts",
			Help:      "Accounts in the final report",
		}),

		referenced: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "referenced_transactions",
			Help:      "Distinct transactions targeted by disputes, resolves and chargebacks",
		}),

		aborted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "aborted",
			Help:      "1 when the run stopped on a fatal fault",
		}),

		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of the run",
		}),
	}

	registry.MustRegister(
		r.rows,
		r.strategyChosen,
		r.inputBytes,
		r.requiredBytes,
		r.thresholdBytes,
		r.accounts,
		r.referenced,
		r.aborted,
		r.duration,
	)

	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Accounts exposes the final account gauge.
func (r *Recorder) Accounts() prometheus.Gauge { return r.accounts }

// RecordStrategy notes the chosen strategy and the estimate behind it.
func (r *Recorder) RecordStrategy(decision strategy.Decision, est strategy.Estimate) {
	for _, d := range []strategy.Decision{strategy.InMemory, strategy.DiskBacked} {
		v := 0.0
		if d == decision {
			v = 1
		}
		r.strategyChosen.WithLabelValues(d.String()).Set(v)
	}
	r.inputBytes.Set(float64(est.InputBytes))
	r.requiredBytes.Set(float64(est.RequiredBytes))
	r.thresholdBytes.Set(float64(est.ThresholdBytes))
}

// AddRows counts n rows with the given outcome.
func (r *Recorder) AddRows(outcome string, n int64) {
	if n <= 0 {
		return
	}
	r.rows.WithLabelValues(outcome).Add(float64(n))
}

// RecordResult stores the end-of-run gauges.
func (r *Recorder) RecordResult(accounts, referenced int, aborted bool, elapsed time.Duration) {
	r.accounts.Set(float64(accounts))
	r.referenced.Set(float64(referenced))
	if aborted {
		r.aborted.Set(1)
	} else {
		r.aborted.Set(0)
	}
	r.duration.Set(elapsed.Seconds())
}

// WriteTextfile writes the registry in text exposition format to path atomically.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
