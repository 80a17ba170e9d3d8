// Package metrics provides Prometheus instrumentation for agent calls and
// refinement runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Call outcomes.
const (
	OutcomeSuccess   = "success"
	OutcomeTimeout   = "timeout"
	OutcomeMalformed = "malformed_output"
	OutcomeSchema    = "schema_violation"
	OutcomeError     = "error"
	OutcomeFatal     = "fatal"
	OutcomeCancelled = "cancelled"
)

var (
	agentCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duet_agent_calls_total",
			Help: "Total number of agent call attempts",
		},
		[]string{"role", "outcome"},
	)

	agentCallDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duet_agent_call_duration_seconds",
			Help:    "Agent call duration in seconds, retries included",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"role"},
	)

	agentRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duet_agent_retries_total",
			Help: "Total number of agent call retries",
		},
		[]string{"role", "reason"},
	)

	agentTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duet_agent_tokens_total",
			Help: "Tokens consumed by agent calls",
		},
		[]string{"role", "direction"}, // direction: input, output
	)
)

var (
	refinementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duet_refinements_total",
			Help: "Total number of refinement runs by termination reason",
		},
		[]string{"termination"},
	)

	refinementIterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "duet_refinement_iterations",
			Help:    "Iterations used per refinement run",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10},
		},
	)

	refinementDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "duet_refinement_duration_seconds",
			Help:    "Refinement run duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)
)

// RecordAttempt counts one call attempt with its outcome.
func RecordAttempt(role, outcome string) {
	agentCallsTotal.WithLabelValues(role, outcome).Inc()
}

// RecordRetry counts a retry and the outcome that caused it.
func RecordRetry(role, reason string) {
	agentRetriesTotal.WithLabelValues(role, reason).Inc()
}

// RecordCall records a finished call, retries included.
func RecordCall(role string, d time.Duration, inputTokens, outputTokens int) {
	agentCallDurationSeconds.WithLabelValues(role).Observe(d.Seconds())
	agentTokensTotal.WithLabelValues(role, "input").Add(float64(inputTokens))
	agentTokensTotal.WithLabelValues(role, "output").Add(float64(outputTokens))
}

// RecordRefinement records a finished refinement run.
func RecordRefinement(termination string, iterations int, d time.Duration) {
	refinementsTotal.WithLabelValues(termination).Inc()
	refinementIterations.Observe(float64(iterations))
	refinementDurationSeconds.Observe(d.Seconds())
}
