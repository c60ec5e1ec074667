// Package observability provides logging, metrics, and tracing support for
// the paper aggregation service.
//
// # Overview
//
// The observability package provides:
//
//   - Structured logging with zerolog
//   - Prometheus metrics for jobs, searches, papers, and PDF resolution
//   - Context helpers for propagating observability data
//
// # Logging
//
// Create a logger from configuration:
//
//	cfg := observability.LoggingConfig{
//	    Level:     "info",
//	    Format:    "json",
//	    Output:    "stdout",
//	    AddSource: true,
//	}
//
//	logger := observability.NewLogger(cfg)
//	logger.Info().Str("job_id", jobID).Msg("job started")
//
// Add job context to the logger:
//
//	logger = observability.WithJobContext(logger, jobID, status)
//
// # Metrics
//
// Initialize metrics:
//
//	metrics := observability.NewMetrics("paper_aggregation")
//
// Record metrics:
//
//	metrics.RecordJobSubmitted()
//	metrics.RecordSearchCompleted("semantic_scholar", 42, 1.3)
//	metrics.RecordPapersDiscovered("openalex", 17)
//
// # Context Helpers
//
// Store and retrieve request context:
//
//	ctx = observability.WithRequestID(ctx, requestID)
//	ctx = observability.WithJobID(ctx, jobID)
//
//	reqID := observability.RequestIDFromContext(ctx)
//	jobID := observability.JobIDFromContext(ctx)
//
// # Standard Fields
//
// Common fields used across the service:
//
//   - request_id: Inbound request identifier
//   - job_id: Aggregation job identifier
//   - status: Job status (pending, running, completed, failed, cancelled)
//   - query: Search query sent to paper sources
//   - source: Paper source (semantic_scholar, openalex, etc.)
//   - paper_id: Paper identifier
//   - trace_id: Distributed trace identifier
//
// # Thread Safety
//
// All components are safe for concurrent use from multiple goroutines.
package observability
