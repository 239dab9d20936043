// Package metrics exposes Prometheus instrumentation for the scan engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsNamespace prefixes every metric name
const MetricsNamespace = "voyage"

// Metrics holds the scan engine collectors. A nil *Metrics records nothing.
type Metrics struct {
	CandidatesClaimed   prometheus.Counter
	CandidatesResolved  *prometheus.CounterVec
	CandidatesRequeued  prometheus.Counter
	QueueContended      prometheus.Counter
	HaltedRecovered     prometheus.Counter
	ProbeDuration       *prometheus.HistogramVec
	WorkersActive       prometheus.Gauge
	PassiveSourceErrors *prometheus.CounterVec
}

// New creates and registers the collectors on reg, or on the default
// registerer when reg is nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		CandidatesClaimed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "candidates_claimed_total",
			Help:      "Total number of candidates claimed by workers",
		}),
		CandidatesResolved: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "candidates_resolved_total",
			Help:      "Total number of candidates that reached a terminal status",
		}, []string{"status"}),
		CandidatesRequeued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "candidates_requeued_total",
			Help:      "Total number of candidates returned to the queue for a retry",
		}),
		QueueContended: factory.NewCounter(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "queue_contended_total",
			Help:      "Empty claims while peers still held scanning candidates",
		}),
		HaltedRecovered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "halted_recovered_total",
			Help:      "Candidates left scanning by a previous process and requeued",
		}),
		ProbeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Name:      "probe_duration_seconds",
			Help:      "Duration of a single technique probe",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms to ~41s
		}, []string{"technique"}),
		WorkersActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "workers_active",
			Help:      "Number of worker loops currently running",
		}),
		PassiveSourceErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "passive_source_errors_total",
			Help:      "Passive source fetches that failed",
		}, []string{"source"}),
	}
}

func (m *Metrics) Claimed(n int) {
	if m != nil {
		m.CandidatesClaimed.Add(float64(n))
	}
}

func (m *Metrics) Resolved(found bool) {
	if m == nil {
		return
	}
	status := "not_found"
	if found {
		status = "found"
	}
	m.CandidatesResolved.WithLabelValues(status).Inc()
}

func (m *Metrics) Requeued() {
	if m != nil {
		m.CandidatesRequeued.Inc()
	}
}

func (m *Metrics) Contended() {
	if m != nil {
		m.QueueContended.Inc()
	}
}

func (m *Metrics) Recovered(n int64) {
	if m != nil {
		m.HaltedRecovered.Add(float64(n))
	}
}

func (m *Metrics) WorkerStarted() {
	if m != nil {
		m.WorkersActive.Inc()
	}
}

func (m *Metrics) WorkerStopped() {
	if m != nil {
		m.WorkersActive.Dec()
	}
}

func (m *Metrics) SourceFailed(source string) {
	if m != nil {
		m.PassiveSourceErrors.WithLabelValues(source).Inc()
	}
}

// ObserveProbe records how long a technique took. It matches
// technique.ProbeObserver.
func (m *Metrics) ObserveProbe(technique string, elapsed time.Duration) {
	if m != nil {
		m.ProbeDuration.WithLabelValues(technique).Observe(elapsed.Seconds())
	}
}
