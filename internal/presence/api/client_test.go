package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/GriffinCanCode/SupportDesk/presence/internal/auth"
	"github.com/GriffinCanCode/SupportDesk/presence/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/SupportDesk/presence/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/SupportDesk/presence/internal/infrastructure/tracing"
)

func TestStartSendsContract(t *testing.T) {
	var (
		gotPath string
		gotAuth string
		gotReq  string
		gotBody StartRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotReq = r.Header.Get("X-Request-ID")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/", WithTokenSource(auth.Static("tok")))
	err := client.Start(context.Background(), StartRequest{
		SessionID:  "S1",
		TabID:      "T1",
		DeviceInfo: DeviceInfo{Platform: "linux/amd64", Timestamp: time.Now()},
	})
	require.NoError(t, err)

	assert.Equal(t, StartPath, gotPath)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.True(t, strings.HasPrefix(gotReq, "req_"))
	assert.Equal(t, "S1", gotBody.SessionID)
	assert.Equal(t, "T1", gotBody.TabID)
	assert.Equal(t, "linux/amd64", gotBody.DeviceInfo.Platform)
}

func TestTraceIDPropagates(t *testing.T) {
	var gotTrace atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTrace.Store(r.Header.Get(tracing.TraceHeader))
	}))
	defer srv.Close()

	ctx := tracing.WithTraceID(context.Background(), "trace_tick")
	require.NoError(t, NewClient(srv.URL).Heartbeat(ctx, HeartbeatRequest{SessionID: "S1", TabID: "T1"}))
	assert.Equal(t, "trace_tick", gotTrace.Load())
}

func TestTracerRecordsClientSpans(t *testing.T) {
	var gotSpan atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSpan.Store(r.Header.Get(tracing.SpanHeader))
	}))
	defer srv.Close()

	core, logs := observer.New(zapcore.DebugLevel)
	tracer := tracing.New("presence", zap.New(core), tracing.WithLevel(zapcore.DebugLevel))

	ctx := tracing.WithTraceID(context.Background(), "trace_tick")
	client := NewClient(srv.URL, WithTracer(tracer))
	require.NoError(t, client.Start(ctx, StartRequest{SessionID: "S1", TabID: "T1"}))
	tracer.Close()

	entries := logs.FilterMessage("span completed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "trace_tick", fields["trace_id"])
	assert.Equal(t, "POST "+StartPath, fields["operation"])
	assert.Equal(t, gotSpan.Load(), fields["span_id"])
}

func TestMissingTokenSendsUnauthenticated(t *testing.T) {
	var gotAuth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, WithTokenSource(&auth.Holder{}))
	require.NoError(t, client.Heartbeat(context.Background(), HeartbeatRequest{SessionID: "S1", TabID: "T1"}))
	assert.Equal(t, "", gotAuth.Load())
}

func TestRemoteErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		notFound bool
		code     string
	}{
		{"nested code", 404, `{"error":{"code":"SESSION_NOT_FOUND","message":"Session not found"}}`, true, "SESSION_NOT_FOUND"},
		{"flat code", 404, `{"code":"SESSION_NOT_FOUND","message":"gone"}`, true, "SESSION_NOT_FOUND"},
		{"message only", 400, `{"error":"Session not found"}`, true, ""},
		{"detail only", 404, `{"detail":"Session not found or expired"}`, true, ""},
		{"other code wins over text", 401, `{"error":{"code":"UNAUTHORIZED","message":"session not found"}}`, false, "UNAUTHORIZED"},
		{"plain text", 500, `upstream exploded`, false, ""},
		{"null error", 500, `{"error":null,"message":"boom"}`, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client := NewClient(srv.URL, WithBreaker(nil))
			err := client.Heartbeat(context.Background(), HeartbeatRequest{SessionID: "S1", TabID: "T1"})
			require.Error(t, err)

			var rerr *RemoteError
			require.True(t, errors.As(err, &rerr))
			assert.Equal(t, tt.status, rerr.Status)
			assert.Equal(t, tt.code, rerr.Code)
			assert.Equal(t, tt.notFound, errors.Is(err, ErrSessionNotFound))
		})
	}
}

func TestBreakerOpensOnTransportFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	breaker := resilience.New("test", resilience.Settings{
		ReadyToTrip: func(c resilience.Counts) bool { return c.ConsecutiveFailures >= 2 },
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrSessionNotFound)
		},
	})
	metrics := monitoring.NewMetrics(prometheus.NewRegistry())
	client := NewClient(srv.URL, WithBreaker(breaker), WithMetrics(metrics))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		assert.Error(t, client.Heartbeat(ctx, HeartbeatRequest{}))
	}
	err := client.Heartbeat(ctx, HeartbeatRequest{})
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, int32(2), hits.Load())

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.BreakerState.WithLabelValues("test", "open")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.BreakerState.WithLabelValues("test", "closed")))
}

func TestSessionNotFoundDoesNotTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":"SESSION_NOT_FOUND","message":"Session not found"}}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	for i := 0; i < 20; i++ {
		err := client.Heartbeat(context.Background(), HeartbeatRequest{})
		require.ErrorIs(t, err, ErrSessionNotFound)
	}
	assert.Equal(t, resilience.StateClosed, client.breaker.State())
}

func TestEndDoesNotRetryRemoteErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	err := client.End(context.Background(), EndRequest{SessionID: "S1", TabID: "T1", Reason: "logout"})
	assert.Error(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestEndRetriesTransportFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	client := NewClient(url, WithTimeout(100*time.Millisecond))
	start := time.Now()
	err := client.End(context.Background(), EndRequest{Reason: "logout"})
	assert.Error(t, err)
	// Two backoffs: 200ms + 400ms.
	assert.GreaterOrEqual(t, time.Since(start), 600*time.Millisecond)
}

func TestEndURL(t *testing.T) {
	client := NewClient("https://desk.example.com/")
	assert.Equal(t, "https://desk.example.com/api/sessions/end", client.EndURL())
}

func TestRateLimitHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	client := NewClient(srv.URL, WithRateLimit(1))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	require.NoError(t, client.Heartbeat(ctx, HeartbeatRequest{}))
	err := client.Heartbeat(ctx, HeartbeatRequest{})
	assert.Error(t, err)
}
