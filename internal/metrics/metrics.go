// Package metrics holds launchpad's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	// SigningOperations counts invocations of the signing pipeline.
	SigningOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "launchpad",
			Subsystem: "signing",
			Name:      "operations_total",
			Help:      "Signing pipeline invocations by alias and result.",
		},
		[]string{"alias", "result"},
	)

	// SigningCacheHits counts lookups answered without signing.
	SigningCacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "launchpad",
			Subsystem: "signing",
			Name:      "cache_hits_total",
			Help:      "Signed artifact lookups served from the cache.",
		},
		[]string{"alias"},
	)

	// LifecycleTransitions counts state machine transitions that ran.
	LifecycleTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "launchpad",
			Subsystem: "lifecycle",
			Name:      "transitions_total",
			Help:      "Lifecycle transitions by action and resulting state.",
		},
		[]string{"action", "state"},
	)

	// SynthesisDuration observes how long one unit takes to synthesize.
	SynthesisDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "launchpad",
			Subsystem: "synth",
			Name:      "duration_seconds",
			Help:      "Time to synthesize one deployed unit.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
	)
)

func init() {
	Registry.MustRegister(
		SigningOperations,
		SigningCacheHits,
		LifecycleTransitions,
		SynthesisDuration,
	)
}

// WriteTextfile writes the current metric values in the Prometheus text
// format, for pickup by a node_exporter textfile collector.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, Registry)
}
