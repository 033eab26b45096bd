package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestCacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cdl_request_cache_lookups_total",
			Help: "Request cache lookups by result (hit, miss, coalesced).",
		},
		[]string{"result"},
	)

	RequestCacheProducerFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cdl_request_cache_producer_failures_total",
			Help: "Producer invocations that returned an error.",
		},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cdl_api_request_duration_seconds",
			Help:    "Latency of remote API calls by method and outcome.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "outcome"},
	)

	SessionTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cdl_session_transitions_total",
			Help: "Session state transitions by operation and resulting status.",
		},
		[]string{"operation", "status"},
	)

	SessionSignalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cdl_session_signals_total",
			Help: "Cross-tab session signals by direction (published, applied, ignored, stale) and kind.",
		},
		[]string{"direction", "kind"},
	)

	CourseFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cdl_course_fetches_total",
			Help: "Course store fetches by list (all, enrolled, by_id) and outcome.",
		},
		[]string{"list", "outcome"},
	)

	CoursesCached = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cdl_courses_cached",
			Help: "Number of course entities held in the normalized store.",
		},
	)
)

// IncrementCacheLookup records a request cache lookup result.
func IncrementCacheLookup(result string) {
	RequestCacheLookupsTotal.WithLabelValues(result).Inc()
}

// IncrementProducerFailure records a failed producer call.
func IncrementProducerFailure() {
	RequestCacheProducerFailuresTotal.Inc()
}

// ObserveAPIRequest records the latency of a remote call.
func ObserveAPIRequest(method, outcome string, seconds float64) {
	APIRequestDuration.WithLabelValues(method, outcome).Observe(seconds)
}

// IncrementSessionTransition records a session state transition.
func IncrementSessionTransition(operation, status string) {
	SessionTransitionsTotal.WithLabelValues(operation, status).Inc()
}

// IncrementSessionSignal records a cross-tab signal.
func IncrementSessionSignal(direction, kind string) {
	SessionSignalsTotal.WithLabelValues(direction, kind).Inc()
}

// IncrementCourseFetch records a course store fetch.
func IncrementCourseFetch(list, outcome string) {
	CourseFetchesTotal.WithLabelValues(list, outcome).Inc()
}

// SetCoursesCached sets the number of normalized course entities.
func SetCoursesCached(n int) {
	CoursesCached.Set(float64(n))
}
