// Package observability provides the pipeline's monitoring surface:
// Prometheus metrics for engine calls, cache lookups, validation verdicts,
// and sampling rounds, plus structured slog logging with sensitive-value
// redaction.
//
// Metrics are registered through a prometheus.Registerer so production code
// can use the default registry while tests register against a fresh one.
package observability
