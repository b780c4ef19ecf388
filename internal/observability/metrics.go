package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks the pipeline's externally visible behavior:
//   - Engine call volume, latency, and retry pressure
//   - Generation cache effectiveness
//   - Candidate flow through the validation gate
//   - Sampling round outcomes per difficulty
type Metrics struct {
	// EngineRequestCounter counts generation calls.
	// Labels: provider (openai|anthropic), model, status (success|error)
	EngineRequestCounter *prometheus.CounterVec

	// EngineRequestDuration measures generation call latency in seconds.
	// Labels: provider, model
	// Buckets: 0.1s, 0.5s, 1s, 2s, 5s, 10s, 30s, 60s
	EngineRequestDuration *prometheus.HistogramVec

	// EngineRetryCounter counts retried generation attempts.
	// Labels: provider
	EngineRetryCounter *prometheus.CounterVec

	// CacheCounter tracks generation cache lookups.
	// Labels: result (hit|miss|corrupt)
	CacheCounter *prometheus.CounterVec

	// CandidateCounter counts candidates leaving the validation gate.
	// Labels: difficulty (easy|medium|hard), outcome (accepted|rejected)
	CandidateCounter *prometheus.CounterVec

	// RoundCounter counts sampling rounds.
	// Labels: difficulty, result (filled|rejected|exhausted|unavailable)
	RoundCounter *prometheus.CounterVec
}

// New creates and registers all pipeline metrics on the given registerer.
// Pass prometheus.DefaultRegisterer in production; tests use a fresh
// registry to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EngineRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qaforge_engine_requests_total",
				Help: "Total number of generation engine calls by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		EngineRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "qaforge_engine_request_duration_seconds",
				Help:    "Duration of generation engine calls in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		EngineRetryCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qaforge_engine_retries_total",
				Help: "Total number of retried generation attempts by provider",
			},
			[]string{"provider"},
		),

		CacheCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qaforge_cache_lookups_total",
				Help: "Total number of generation cache lookups by result",
			},
			[]string{"result"},
		),

		CandidateCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qaforge_candidates_total",
				Help: "Total number of validated candidates by difficulty and outcome",
			},
			[]string{"difficulty", "outcome"},
		),

		RoundCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qaforge_rounds_total",
				Help: "Total number of sampling rounds by difficulty and result",
			},
			[]string{"difficulty", "result"},
		),
	}
}

// RecordEngineRequest records one generation call.
func (m *Metrics) RecordEngineRequest(provider, model, status string, durationSeconds float64) {
	m.EngineRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.EngineRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
}

// RecordRetry records one retried generation attempt.
func (m *Metrics) RecordRetry(provider string) {
	m.EngineRetryCounter.WithLabelValues(provider).Inc()
}

// RecordCacheLookup records a cache lookup result: hit, miss, or corrupt.
func (m *Metrics) RecordCacheLookup(result string) {
	m.CacheCounter.WithLabelValues(result).Inc()
}

// RecordCandidate records a validation verdict.
func (m *Metrics) RecordCandidate(difficulty, outcome string) {
	m.CandidateCounter.WithLabelValues(difficulty, outcome).Inc()
}

// RecordRound records the result of one sampling round.
func (m *Metrics) RecordRound(difficulty, result string) {
	m.RoundCounter.WithLabelValues(difficulty, result).Inc()
}
