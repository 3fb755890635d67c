// Package metrics tracks daemon-internal counters and gauges for worker
// and run activity. Grounded on cuemby-warren/pkg/metrics's
// prometheus.NewGaugeVec/NewCounterVec/NewHistogram catalogue and its
// Timer helper, narrowed to Granary's worker/run domain.
//
// Unlike the teacher, metrics here register against a private
// prometheus.Registry rather than prometheus.DefaultRegisterer, and
// nothing calls promhttp.Handler: SPEC_FULL.md §E.3 keeps the no-
// network-exposed-endpoints Non-goal in force for metrics too, so the
// only consumer is GetMetricsSnapshot, which tests call; no IPC
// operation, Ping included, reports it.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Registry holds one daemon's metric set.
type Registry struct {
	reg *prometheus.Registry

	workersByStatus *prometheus.GaugeVec
	runsByStatus    *prometheus.GaugeVec

	runsStartedTotal  prometheus.Counter
	runsRetriedTotal  prometheus.Counter
	runsCancelledTotal prometheus.Counter

	dispatchLatency prometheus.Histogram
	runDuration     prometheus.Histogram
}

// NewRegistry builds a Registry with all metrics registered against a
// fresh, private prometheus.Registry.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		workersByStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "granary_workers_total",
				Help: "Number of workers by status",
			},
			[]string{"status"},
		),
		runsByStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "granary_runs_total",
				Help: "Number of non-terminal runs by status",
			},
			[]string{"status"},
		),
		runsStartedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "granary_runs_started_total",
				Help: "Total number of run attempts spawned",
			},
		),
		runsRetriedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "granary_runs_retried_total",
				Help: "Total number of run attempts scheduled as a retry",
			},
		),
		runsCancelledTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "granary_runs_cancelled_total",
				Help: "Total number of runs cancelled by StopWorker or Shutdown",
			},
		),
		dispatchLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "granary_dispatch_latency_seconds",
				Help:    "Time from event append to matching run spawn",
				Buckets: prometheus.DefBuckets,
			},
		),
		runDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "granary_run_duration_seconds",
				Help:    "Run wall-clock duration from spawn to exit",
				Buckets: prometheus.DefBuckets,
			},
		),
	}

	r.reg.MustRegister(
		r.workersByStatus,
		r.runsByStatus,
		r.runsStartedTotal,
		r.runsRetriedTotal,
		r.runsCancelledTotal,
		r.dispatchLatency,
		r.runDuration,
	)
	return r
}

// SetWorkersByStatus replaces the workersByStatus gauge vector's values.
// Any status previously reported but absent from counts is reset to zero
// by the caller calling Reset first (see Collector.collect).
func (r *Registry) SetWorkersByStatus(counts map[string]int) {
	for status, n := range counts {
		r.workersByStatus.WithLabelValues(status).Set(float64(n))
	}
}

// SetRunsByStatus mirrors SetWorkersByStatus for runs.
func (r *Registry) SetRunsByStatus(counts map[string]int) {
	for status, n := range counts {
		r.runsByStatus.WithLabelValues(status).Set(float64(n))
	}
}

// ResetWorkerStatuses zeroes every known worker status label before a
// fresh SetWorkersByStatus call, so a status that drops to zero workers
// doesn't keep reporting its last nonzero value.
func (r *Registry) ResetWorkerStatuses(statuses []string) {
	for _, s := range statuses {
		r.workersByStatus.WithLabelValues(s).Set(0)
	}
}

// ResetRunStatuses mirrors ResetWorkerStatuses for runs.
func (r *Registry) ResetRunStatuses(statuses []string) {
	for _, s := range statuses {
		r.runsByStatus.WithLabelValues(s).Set(0)
	}
}

func (r *Registry) IncRunStarted()    { r.runsStartedTotal.Inc() }
func (r *Registry) IncRunRetried()    { r.runsRetriedTotal.Inc() }
func (r *Registry) IncRunCancelled()  { r.runsCancelledTotal.Inc() }

// ObserveDispatchLatency records the delay between an event's creation
// and the moment its matching run was spawned.
func (r *Registry) ObserveDispatchLatency(d time.Duration) {
	r.dispatchLatency.Observe(d.Seconds())
}

// ObserveRunDuration records one run's wall-clock execution time.
func (r *Registry) ObserveRunDuration(d time.Duration) {
	r.runDuration.Observe(d.Seconds())
}

// Snapshot is the plain-value projection GetMetricsSnapshot returns —
// deliberately not a prometheus type, so callers (Ping's diagnostics,
// tests) don't need the client_golang API to read it.
type Snapshot struct {
	WorkersByStatus map[string]float64
	RunsByStatus    map[string]float64
	RunsStarted     float64
	RunsRetried     float64
	RunsCancelled   float64
}

// GetMetricsSnapshot gathers the registry's current metric families into
// a plain Snapshot. It is the only reader of this package's metrics —
// there is no HTTP exposition (§E.3).
func (r *Registry) GetMetricsSnapshot() (Snapshot, error) {
	families, err := r.reg.Gather()
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		WorkersByStatus: map[string]float64{},
		RunsByStatus:    map[string]float64{},
	}
	for _, fam := range families {
		switch fam.GetName() {
		case "granary_workers_total":
			for _, m := range fam.GetMetric() {
				snap.WorkersByStatus[labelValue(m, "status")] = m.GetGauge().GetValue()
			}
		case "granary_runs_total":
			for _, m := range fam.GetMetric() {
				snap.RunsByStatus[labelValue(m, "status")] = m.GetGauge().GetValue()
			}
		case "granary_runs_started_total":
			snap.RunsStarted = fam.GetMetric()[0].GetCounter().GetValue()
		case "granary_runs_retried_total":
			snap.RunsRetried = fam.GetMetric()[0].GetCounter().GetValue()
		case "granary_runs_cancelled_total":
			snap.RunsCancelled = fam.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return snap, nil
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

// Timer is a helper for timing operations, carried over from the
// teacher's Timer unchanged — still the right shape for "start now,
// observe into a histogram later".
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
