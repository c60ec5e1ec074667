package observability

import (
	"context"
)

// Context keys for observability data.
type contextKey string

const (
	requestIDKey contextKey = "request_id"
	jobIDKey     contextKey = "job_id"
	traceIDKey   contextKey = "trace_id"
	spanIDKey    contextKey = "span_id"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext retrieves the request ID from context.
// Returns empty string if not present.
func RequestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// WithJobID adds an aggregation job ID to the context.
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDKey, jobID)
}

// JobIDFromContext retrieves the job ID from context.
// Returns empty string if not present.
func JobIDFromContext(ctx context.Context) string {
	if v := ctx.Value(jobIDKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// WithTraceSpan adds trace and span IDs to the context.
func WithTraceSpan(ctx context.Context, traceID, spanID string) context.Context {
	ctx = context.WithValue(ctx, traceIDKey, traceID)
	ctx = context.WithValue(ctx, spanIDKey, spanID)
	return ctx
}

// TraceSpanFromContext retrieves trace and span IDs from context.
// Returns empty strings if not present.
func TraceSpanFromContext(ctx context.Context) (traceID, spanID string) {
	if v := ctx.Value(traceIDKey); v != nil {
		if id, ok := v.(string); ok {
			traceID = id
		}
	}
	if v := ctx.Value(spanIDKey); v != nil {
		if id, ok := v.(string); ok {
			spanID = id
		}
	}
	return traceID, spanID
}

// JobContext contains all the context data for an aggregation job.
type JobContext struct {
	RequestID string
	JobID     string
	TraceID   string
	SpanID    string
}

// WithJobContextFull adds all job context to the context.
func WithJobContextFull(ctx context.Context, jc JobContext) context.Context {
	if jc.RequestID != "" {
		ctx = WithRequestID(ctx, jc.RequestID)
	}
	if jc.JobID != "" {
		ctx = WithJobID(ctx, jc.JobID)
	}
	if jc.TraceID != "" || jc.SpanID != "" {
		ctx = WithTraceSpan(ctx, jc.TraceID, jc.SpanID)
	}
	return ctx
}

// JobContextFromContext extracts all job context from the context.
func JobContextFromContext(ctx context.Context) JobContext {
	traceID, spanID := TraceSpanFromContext(ctx)

	return JobContext{
		RequestID: RequestIDFromContext(ctx),
		JobID:     JobIDFromContext(ctx),
		TraceID:   traceID,
		SpanID:    spanID,
	}
}
