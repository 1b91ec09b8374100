package tracing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestStartSpanKeepsTraceID(t *testing.T) {
	tracer := New("test", zap.NewNop())
	defer tracer.Close()

	ctx := WithTraceID(context.Background(), "trace_abc")
	parent, ctx := tracer.StartSpan(ctx, "parent")
	child, _ := tracer.StartSpan(ctx, "child")

	assert.Equal(t, TraceID("trace_abc"), parent.TraceID)
	assert.Equal(t, parent.TraceID, child.TraceID)
	assert.Equal(t, parent.SpanID, child.ParentID)
	assert.NotEqual(t, parent.SpanID, child.SpanID)
}

func TestStartSpanGeneratesTraceID(t *testing.T) {
	tracer := New("test", zap.NewNop())
	defer tracer.Close()

	span, ctx := tracer.StartSpan(context.Background(), "op")
	assert.NotEmpty(t, span.TraceID)
	assert.Equal(t, span.TraceID, GetTraceID(ctx))
	assert.Equal(t, span.SpanID, GetSpanID(ctx))
}

func TestInjectExtract(t *testing.T) {
	h := http.Header{}
	Inject(context.Background(), h)
	assert.Empty(t, h.Get(TraceHeader))

	ctx := WithTraceID(context.Background(), "trace_1")
	Inject(ctx, h)
	assert.Equal(t, "trace_1", h.Get(TraceHeader))

	got := Extract(context.Background(), h)
	assert.Equal(t, TraceID("trace_1"), GetTraceID(got))
}

func TestCloseDrainsSpans(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	tracer := New("test", zap.New(core))

	span, _ := tracer.StartSpan(context.Background(), "op")
	span.End(0, nil)
	tracer.Submit(span)
	tracer.Close()
	tracer.Close()

	entries := logs.FilterMessage("span completed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "op", entries[0].ContextMap()["operation"])

	// Late submissions are dropped without panicking.
	tracer.Submit(span)
}

func TestFailedSpansLogAtWarn(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	tracer := New("test", zap.New(core), WithLevel(zapcore.DebugLevel))

	ok, _ := tracer.StartSpan(context.Background(), "ok")
	ok.End(http.StatusOK, nil)
	tracer.Submit(ok)

	bad, _ := tracer.StartSpan(context.Background(), "bad")
	bad.End(0, errors.New("connection refused"))
	tracer.Submit(bad)
	tracer.Close()

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "span failed", entry.Message)
	assert.Equal(t, "connection refused", entry.ContextMap()["error"])
}

func TestRoundTripperPropagates(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	tracer := New("client", zap.New(core), WithLevel(zapcore.DebugLevel))

	var gotTrace, gotSpan string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTrace = r.Header.Get(TraceHeader)
		gotSpan = r.Header.Get(SpanHeader)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer ts.Close()

	client := &http.Client{Transport: tracer.RoundTripper(nil)}
	ctx := WithTraceID(context.Background(), "trace_tick")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.URL+"/heartbeat", nil)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, req.Header.Get(TraceHeader))

	tracer.Close()
	assert.Equal(t, "trace_tick", gotTrace)
	assert.NotEmpty(t, gotSpan)

	entries := logs.FilterMessage("span completed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "POST /heartbeat", fields["operation"])
	assert.Equal(t, int64(http.StatusAccepted), fields["status"])
	assert.Equal(t, gotSpan, fields["span_id"])
}

func TestHTTPMiddleware(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	tracer := New("sandbox", zap.New(core), WithLevel(zapcore.DebugLevel))

	var seen TraceID
	router := gin.New()
	router.Use(HTTPMiddleware(tracer))
	router.GET("/ping", func(c *gin.Context) {
		seen = GetTraceID(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(TraceHeader, "trace_from_client")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, TraceID("trace_from_client"), seen)
	assert.Equal(t, "trace_from_client", w.Header().Get(TraceHeader))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.NotEmpty(t, w.Header().Get(TraceHeader))
	assert.NotEqual(t, "trace_from_client", w.Header().Get(TraceHeader))

	tracer.Close()
	entries := logs.FilterMessage("span completed").All()
	require.Len(t, entries, 2)
	assert.Equal(t, int64(http.StatusNoContent), entries[0].ContextMap()["status"])
	assert.Equal(t, "/ping", entries[0].ContextMap()["operation"])
}
