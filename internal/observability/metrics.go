// README: Prometheus metrics for matching, pool lifecycle, verification and HTTP.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "poolride"

var (
	PoolsCreated = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "pools_created_total", Help: "Pools created because no compatible pool existed"})
	PoolJoins    = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "pool_joins_total", Help: "Join attempts by result"}, []string{"result"})
	JoinRetries  = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "pool_join_retries_total", Help: "Join attempts retried after a version conflict"})
	MatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "match_latency_seconds", Help: "Time to rank candidate pools", Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12)})
	MatchesFound = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "matches_per_search", Help: "Compatible pools per search", Buckets: []float64{0, 1, 2, 3, 5, 8, 13}})

	PoolTransitions = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "pool_transitions_total", Help: "Pool status transitions"}, []string{"to"})
	PoolsExpired    = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "pools_expired_total", Help: "Pools expired by the sweep"})
	SweepConflicts  = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "expiry_sweep_conflicts_total", Help: "Expiry writes skipped because the pool changed concurrently"})

	VerificationDecisions = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "verification_decisions_total", Help: "Admin verification decisions"}, []string{"decision"})
	ReverificationsOpened = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "reverifications_opened_total", Help: "Approved drivers sent back to review after a sensitive edit"})

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "events_published_total", Help: "Domain events handed to publishers"}, []string{"sink", "result"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
