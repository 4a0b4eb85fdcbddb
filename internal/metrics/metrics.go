// Package metrics holds the Prometheus collectors for the decision core.
// Collectors are registered on a caller-owned registry, never the global one.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Registry *prometheus.Registry

	Decisions            *prometheus.CounterVec
	DecisionDuration     prometheus.Histogram
	Events               *prometheus.CounterVec
	DuplicateImpressions prometheus.Counter
	Assignments          *prometheus.CounterVec
	LifecycleRuns        prometheus.Counter
	LifecycleTransitions *prometheus.CounterVec
	LifecycleErrors      prometheus.Counter
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "popgoat_decisions_total",
			Help: "Eligibility decisions by outcome reason.",
		}, []string{"reason"}),
		DecisionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "popgoat_decision_duration_seconds",
			Help:    "Time to produce an eligibility decision.",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
		}),
		Events: f.NewCounterVec(prometheus.CounterOpts{
			Name: "popgoat_events_total",
			Help: "Recorded campaign events by type.",
		}, []string{"type"}),
		DuplicateImpressions: f.NewCounter(prometheus.CounterOpts{
			Name: "popgoat_duplicate_impressions_total",
			Help: "Events dropped because their impression was already recorded.",
		}),
		Assignments: f.NewCounterVec(prometheus.CounterOpts{
			Name: "popgoat_assignments_total",
			Help: "Variant assignment lookups, split by whether a new assignment was written.",
		}, []string{"result"}),
		LifecycleRuns: f.NewCounter(prometheus.CounterOpts{
			Name: "popgoat_lifecycle_runs_total",
			Help: "Lifecycle controller runs.",
		}),
		LifecycleTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "popgoat_lifecycle_transitions_total",
			Help: "Experiments completed by the lifecycle controller, by cause.",
		}, []string{"cause"}),
		LifecycleErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "popgoat_lifecycle_errors_total",
			Help: "Experiments the lifecycle controller failed to evaluate.",
		}),
	}
}
