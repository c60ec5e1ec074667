package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestIDContext(t *testing.T) {
	t.Run("stores and retrieves request ID", func(t *testing.T) {
		ctx := context.Background()
		ctx = WithRequestID(ctx, "req-123")

		result := RequestIDFromContext(ctx)
		assert.Equal(t, "req-123", result)
	})

	t.Run("returns empty string when not set", func(t *testing.T) {
		ctx := context.Background()
		result := RequestIDFromContext(ctx)
		assert.Equal(t, "", result)
	})
}

func TestJobIDContext(t *testing.T) {
	t.Run("stores and retrieves job ID", func(t *testing.T) {
		ctx := context.Background()
		ctx = WithJobID(ctx, "job-456")

		result := JobIDFromContext(ctx)
		assert.Equal(t, "job-456", result)
	})

	t.Run("returns empty string when not set", func(t *testing.T) {
		ctx := context.Background()
		result := JobIDFromContext(ctx)
		assert.Equal(t, "", result)
	})
}

func TestTraceSpanContext(t *testing.T) {
	t.Run("stores and retrieves trace and span IDs", func(t *testing.T) {
		ctx := context.Background()
		ctx = WithTraceSpan(ctx, "trace-abc", "span-xyz")

		traceID, spanID := TraceSpanFromContext(ctx)
		assert.Equal(t, "trace-abc", traceID)
		assert.Equal(t, "span-xyz", spanID)
	})

	t.Run("returns empty strings when not set", func(t *testing.T) {
		ctx := context.Background()
		traceID, spanID := TraceSpanFromContext(ctx)
		assert.Equal(t, "", traceID)
		assert.Equal(t, "", spanID)
	})
}

func TestJobContextFull(t *testing.T) {
	t.Run("stores and retrieves full job context", func(t *testing.T) {
		ctx := context.Background()
		jc := JobContext{
			RequestID: "req-123",
			JobID:     "job-456",
			TraceID:   "trace-abc",
			SpanID:    "span-xyz",
		}

		ctx = WithJobContextFull(ctx, jc)
		result := JobContextFromContext(ctx)

		assert.Equal(t, jc.RequestID, result.RequestID)
		assert.Equal(t, jc.JobID, result.JobID)
		assert.Equal(t, jc.TraceID, result.TraceID)
		assert.Equal(t, jc.SpanID, result.SpanID)
	})

	t.Run("handles partial context", func(t *testing.T) {
		ctx := context.Background()
		jc := JobContext{
			RequestID: "req-only",
		}

		ctx = WithJobContextFull(ctx, jc)
		result := JobContextFromContext(ctx)

		assert.Equal(t, "req-only", result.RequestID)
		assert.Equal(t, "", result.JobID)
	})

	t.Run("returns empty context when nothing set", func(t *testing.T) {
		ctx := context.Background()
		result := JobContextFromContext(ctx)

		assert.Equal(t, JobContext{}, result)
	})
}

func TestContextChaining(t *testing.T) {
	ctx := context.Background()

	// Chain multiple context additions
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithJobID(ctx, "job-1")
	ctx = WithTraceSpan(ctx, "trace-1", "span-1")

	// All values should be retrievable
	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
	assert.Equal(t, "job-1", JobIDFromContext(ctx))

	traceID, spanID := TraceSpanFromContext(ctx)
	assert.Equal(t, "trace-1", traceID)
	assert.Equal(t, "span-1", spanID)
}

func TestContextOverwrite(t *testing.T) {
	ctx := context.Background()

	// Set initial values
	ctx = WithRequestID(ctx, "req-1")

	// Overwrite with new values
	ctx = WithRequestID(ctx, "req-2")

	// Should have new value
	assert.Equal(t, "req-2", RequestIDFromContext(ctx))
}
