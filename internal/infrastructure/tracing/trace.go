package tracing

import (
	"context"
	"net/http"

	"github.com/GriffinCanCode/SupportDesk/presence/internal/shared/id"
)

// Propagation headers
const (
	TraceHeader = "X-Trace-ID"
	SpanHeader  = "X-Span-ID"
)

const tracePrefix = "trace"

// TraceID groups every span caused by one heartbeat tick or request.
type TraceID string

// SpanID identifies one timed operation.
type SpanID string

// NewTraceID generates a trace id.
func NewTraceID() TraceID {
	return TraceID(id.Default().GenerateWithPrefix(tracePrefix))
}

func newSpanID() SpanID {
	return SpanID(id.NewRequestID())
}

type ctxKey int

const (
	traceKey ctxKey = iota
	spanKey
)

// WithTraceID returns ctx carrying traceID.
func WithTraceID(ctx context.Context, traceID TraceID) context.Context {
	return context.WithValue(ctx, traceKey, traceID)
}

func withSpanID(ctx context.Context, spanID SpanID) context.Context {
	return context.WithValue(ctx, spanKey, spanID)
}

// GetTraceID returns the trace id carried by ctx, or "".
func GetTraceID(ctx context.Context) TraceID {
	v, _ := ctx.Value(traceKey).(TraceID)
	return v
}

// GetSpanID returns the current span id carried by ctx, or "".
func GetSpanID(ctx context.Context) SpanID {
	v, _ := ctx.Value(spanKey).(SpanID)
	return v
}

// Inject writes the trace context of ctx into h.
func Inject(ctx context.Context, h http.Header) {
	if v := GetTraceID(ctx); v != "" {
		h.Set(TraceHeader, string(v))
	}
	if v := GetSpanID(ctx); v != "" {
		h.Set(SpanHeader, string(v))
	}
}

// Extract reads a trace context from h into ctx.
func Extract(ctx context.Context, h http.Header) context.Context {
	if v := h.Get(TraceHeader); v != "" {
		ctx = WithTraceID(ctx, TraceID(v))
	}
	if v := h.Get(SpanHeader); v != "" {
		ctx = withSpanID(ctx, SpanID(v))
	}
	return ctx
}
