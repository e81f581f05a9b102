// Package metrics declares the Prometheus collectors exported by dealroom.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "dealroom"

var (
	proposalTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "proposal_transitions_total",
		Help:      "Committed proposal transitions by operation.",
	}, []string{"op"})

	invalidTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "proposal_invalid_transitions_total",
		Help:      "Rejected proposal operations by operation and violated rule.",
	}, []string{"op", "rule"})

	messagesPosted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_posted_total",
		Help:      "Messages appended to conversation feeds.",
	})

	matchCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "match_cache_lookups_total",
		Help:      "Match cache lookups by role and result (hit, miss, expired).",
	}, []string{"role", "result"})

	scoringRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scoring_requests_total",
		Help:      "Calls to the external scoring service by role and outcome.",
	}, []string{"role", "outcome"})

	scoringLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "scoring_request_duration_seconds",
		Help:      "Latency of calls to the external scoring service.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"role"})

	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_sessions",
		Help:      "Conversation sessions currently bound.",
	})
)

// ProposalTransition records a committed transition.
func ProposalTransition(op string) {
	proposalTransitions.WithLabelValues(op).Inc()
}

// InvalidTransition records a rejected operation.
func InvalidTransition(op, rule string) {
	invalidTransitions.WithLabelValues(op, rule).Inc()
}

// MessagePosted records an appended message.
func MessagePosted() {
	messagesPosted.Inc()
}

// MatchCacheLookup records a cache lookup; result is hit, miss or expired.
func MatchCacheLookup(role, result string) {
	matchCacheLookups.WithLabelValues(role, result).Inc()
}

// ScoringRequest records a scoring call and its duration.
func ScoringRequest(role, outcome string, elapsed time.Duration) {
	scoringRequests.WithLabelValues(role, outcome).Inc()
	scoringLatency.WithLabelValues(role).Observe(elapsed.Seconds())
}

// SessionOpened increments the active session gauge.
func SessionOpened() { activeSessions.Inc() }

// SessionClosed decrements the active session gauge.
func SessionClosed() { activeSessions.Dec() }
