package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels discoveries that returned a bundle.
	OutcomeSuccess = "success"
	// OutcomeValidation labels requests rejected before any step ran.
	OutcomeValidation = "validation"
	// OutcomeError labels discoveries aborted by a step failure.
	OutcomeError = "error"
)

const namespace = "context_engine"

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discovery_requests_total",
			Help:      "Total number of context discovery requests, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	requestDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "discovery_seconds",
			Help:      "End-to-end context discovery latency in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30},
		},
	)

	stepDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "discovery_step_seconds",
			Help:      "Latency of each discovery pipeline step in seconds.",
			Buckets:   []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2, 5, 15},
		},
		[]string{"step", "success"},
	)

	parallelTasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discovery_parallel_tasks_total",
			Help:      "Parallel executor task results, partitioned by status.",
		},
		[]string{"status"},
	)

	cacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discovery_cache_lookups_total",
			Help:      "Cache lookups, partitioned by cache name and hit/miss.",
		},
		[]string{"cache", "result"},
	)
)

// Register attaches context engine collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		requestsTotal,
		requestDurationSeconds,
		stepDurationSeconds,
		parallelTasksTotal,
		cacheLookupsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveDiscovery records a discovery duration and outcome label.
func ObserveDiscovery(duration time.Duration, outcome string) {
	switch outcome {
	case OutcomeSuccess, OutcomeValidation:
	default:
		outcome = OutcomeError
	}
	requestsTotal.WithLabelValues(outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	requestDurationSeconds.Observe(duration.Seconds())
}

// ObserveStep records one pipeline step.
func ObserveStep(step string, duration time.Duration, success bool) {
	stepDurationSeconds.WithLabelValues(step, strconv.FormatBool(success)).Observe(duration.Seconds())
}

// ObserveParallelTask counts one parallel task result by status.
func ObserveParallelTask(status string) {
	parallelTasksTotal.WithLabelValues(status).Inc()
}

// CacheLookupObserver returns a hit/miss callback for the named cache.
func CacheLookupObserver(cache string) func(hit bool) {
	hits := cacheLookupsTotal.WithLabelValues(cache, "hit")
	misses := cacheLookupsTotal.WithLabelValues(cache, "miss")
	return func(hit bool) {
		if hit {
			hits.Inc()
			return
		}
		misses.Inc()
	}
}
