package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	registry *Registry
)

// Registry holds all reconciliation metrics.
type Registry struct {
	// Apply pipeline
	ApplyTotal     *prometheus.CounterVec
	ApplyDuration  prometheus.Histogram
	VerifyAttempts prometheus.Counter
	Rollbacks      *prometheus.CounterVec
	Checkpoints    *prometheus.CounterVec
	PlanInterfaces *prometheus.GaugeVec

	// Observed state
	Interfaces *prometheus.GaugeVec
	LastApply  prometheus.Gauge
}

// Get returns the global metrics registry, creating it if necessary.
func Get() *Registry {
	once.Do(func() {
		registry = New(prometheus.DefaultRegisterer)
	})
	return registry
}

// New registers a fresh set of metrics with reg. Tests pass a private
// prometheus.NewRegistry() to avoid duplicate registration.
func New(reg prometheus.Registerer) *Registry {
	f := promauto.With(reg)
	r := &Registry{}

	r.ApplyTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "netstate_apply_total",
		Help: "Apply calls by result",
	}, []string{"result"})

	r.ApplyDuration = f.NewHistogram(prometheus.HistogramOpts{
		Name:    "netstate_apply_duration_seconds",
		Help:    "Wall time of apply calls",
		Buckets: prometheus.DefBuckets,
	})

	r.VerifyAttempts = f.NewCounter(prometheus.CounterOpts{
		Name: "netstate_verify_attempts_total",
		Help: "Verification attempts, retries included",
	})

	r.Rollbacks = f.NewCounterVec(prometheus.CounterOpts{
		Name: "netstate_rollbacks_total",
		Help: "Checkpoint rollbacks by reason",
	}, []string{"reason"})

	r.Checkpoints = f.NewCounterVec(prometheus.CounterOpts{
		Name: "netstate_checkpoints_total",
		Help: "Checkpoint operations by action",
	}, []string{"action"})

	r.PlanInterfaces = f.NewGaugeVec(prometheus.GaugeOpts{
		Name: "netstate_plan_interfaces",
		Help: "Interfaces in the last computed plan by set",
	}, []string{"set"})

	r.Interfaces = f.NewGaugeVec(prometheus.GaugeOpts{
		Name: "netstate_interfaces",
		Help: "Interfaces in the last retrieved state by type and state",
	}, []string{"type", "state"})

	r.LastApply = f.NewGauge(prometheus.GaugeOpts{
		Name: "netstate_last_apply_timestamp_seconds",
		Help: "Unix timestamp of the last successful apply",
	})

	return r
}

// RecordApply records the outcome of one apply call.
func (r *Registry) RecordApply(result string, took time.Duration, at time.Time) {
	r.ApplyTotal.WithLabelValues(result).Inc()
	r.ApplyDuration.Observe(took.Seconds())
	if result == ResultSuccess || result == ResultNoop {
		r.LastApply.Set(float64(at.Unix()))
	}
}

// RecordPlan records the sizes of the add, change and delete sets.
func (r *Registry) RecordPlan(add, change, del int) {
	r.PlanInterfaces.WithLabelValues("add").Set(float64(add))
	r.PlanInterfaces.WithLabelValues("change").Set(float64(change))
	r.PlanInterfaces.WithLabelValues("delete").Set(float64(del))
}

// RecordInterfaces replaces the observed interface counts. counts is keyed
// by [type, state].
func (r *Registry) RecordInterfaces(counts map[[2]string]int) {
	r.Interfaces.Reset()
	for k, n := range counts {
		r.Interfaces.WithLabelValues(k[0], k[1]).Set(float64(n))
	}
}

// Apply results.
const (
	ResultSuccess = "success"
	ResultNoop    = "noop"
	ResultFailure = "failure"
	ResultPending = "pending"
)
