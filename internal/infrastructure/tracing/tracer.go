package tracing

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const spanBuffer = 1000

// Tracer hands finished spans to a background goroutine that logs them, so
// a slow log sink never delays a heartbeat or a request.
type Tracer struct {
	service string
	logger  *zap.Logger
	level   zapcore.Level
	spans   chan *Span
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

// Option configures a Tracer.
type Option func(*Tracer)

// WithLevel sets the level successful spans are logged at. Failed spans
// are always logged at warn level.
func WithLevel(level zapcore.Level) Option {
	return func(t *Tracer) { t.level = level }
}

// New creates a tracer and starts its collector.
func New(service string, logger *zap.Logger, opts ...Option) *Tracer {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracer{
		service: service,
		logger:  logger.Named("trace"),
		level:   zapcore.InfoLevel,
		spans:   make(chan *Span, spanBuffer),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}

	go t.collect()
	return t
}

// StartSpan opens a span as a child of the span in ctx, if any. The trace
// id is taken from ctx or generated.
func (t *Tracer) StartSpan(ctx context.Context, name string) (*Span, context.Context) {
	traceID := GetTraceID(ctx)
	if traceID == "" {
		traceID = NewTraceID()
	}

	span := &Span{
		TraceID:  traceID,
		SpanID:   newSpanID(),
		ParentID: GetSpanID(ctx),
		Name:     name,
		Service:  t.service,
		Start:    time.Now(),
	}
	return span, withSpanID(WithTraceID(ctx, traceID), span.SpanID)
}

// Submit queues a finished span. Spans are dropped when the buffer is full
// or the tracer is closed.
func (t *Tracer) Submit(span *Span) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return
	}

	select {
	case t.spans <- span:
	default:
		t.logger.Warn("Span buffer full, dropping span", zap.String("operation", span.Name))
	}
}

// Close stops the collector after draining queued spans. It is safe to
// call more than once.
func (t *Tracer) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	close(t.spans)
	t.mu.Unlock()

	<-t.done
}

func (t *Tracer) collect() {
	defer close(t.done)
	for span := range t.spans {
		level, msg := t.level, "span completed"
		if span.Err != nil || span.Status >= 500 {
			level, msg = zapcore.WarnLevel, "span failed"
		}
		if ce := t.logger.Check(level, msg); ce != nil {
			ce.Write(zap.Inline(span))
		}
	}
}
