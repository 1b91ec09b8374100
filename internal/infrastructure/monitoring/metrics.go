package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the presence and stream layers.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// HTTP metrics (sandbox server)
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Presence metrics
	Heartbeats       *prometheus.CounterVec
	SessionStarts    *prometheus.CounterVec
	SessionEnds      *prometheus.CounterVec
	SessionRecovered prometheus.Counter
	RemoteDuration   *prometheus.HistogramVec
	Broadcasts       *prometheus.CounterVec
	BreakerState     *prometheus.GaugeVec

	// Stream metrics
	StreamState       *prometheus.GaugeVec
	ReconnectAttempts prometheus.Counter
	StreamMessages    *prometheus.CounterVec
	StreamGaveUp      prometheus.Counter

	// Sandbox metrics
	SandboxSessions prometheus.Gauge
	SandboxStreams  prometheus.Gauge
}

// Stream states exported on the state gauge.
var streamStates = []string{"disconnected", "connecting", "connected", "gave_up"}

var breakerStates = []string{"closed", "half-open", "open"}

// NewMetrics registers all metrics on reg. Passing nil uses the default
// Prometheus registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "presence_http_requests_total",
				Help: "Total number of HTTP requests served",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "presence_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),

		Heartbeats: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "presence_heartbeats_total",
				Help: "Heartbeat ticks by outcome (sent, skipped, failed)",
			},
			[]string{"outcome"},
		),
		SessionStarts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "presence_session_starts_total",
				Help: "Start session calls by status",
			},
			[]string{"status"},
		),
		SessionEnds: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "presence_session_ends_total",
				Help: "End session attempts by reason and transport",
			},
			[]string{"reason", "transport"},
		),
		SessionRecovered: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "presence_session_recoveries_total",
				Help: "Sessions restarted after the server reported them missing",
			},
		),
		RemoteDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "presence_remote_call_duration_seconds",
				Help:    "Session API call duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"call", "status"},
		),
		Broadcasts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "presence_broadcasts_total",
				Help: "Cross-tab broadcast messages by direction and type",
			},
			[]string{"direction", "type"},
		),
		BreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "presence_breaker_state",
				Help: "1 for the current circuit breaker state of each remote collaborator",
			},
			[]string{"name", "state"},
		),

		StreamState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "stream_state",
				Help: "1 for the current stream connection state, 0 otherwise",
			},
			[]string{"state"},
		),
		ReconnectAttempts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "stream_reconnect_attempts_total",
				Help: "Automatic reconnect attempts",
			},
		),
		StreamMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stream_messages_total",
				Help: "Inbound stream frames by outcome (delivered, dropped)",
			},
			[]string{"outcome"},
		),
		StreamGaveUp: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "stream_gave_up_total",
				Help: "Times the stream exhausted its reconnect budget",
			},
		),

		SandboxSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sandbox_sessions_active",
				Help: "Sessions currently known to the sandbox server",
			},
		),
		SandboxStreams: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sandbox_stream_connections",
				Help: "Open stream connections on the sandbox server",
			},
		),
	}
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordHeartbeat counts a heartbeat tick outcome.
func (m *Metrics) RecordHeartbeat(outcome string) {
	if m == nil {
		return
	}
	m.Heartbeats.WithLabelValues(outcome).Inc()
}

// RecordSessionStart counts a start session call.
func (m *Metrics) RecordSessionStart(status string) {
	if m == nil {
		return
	}
	m.SessionStarts.WithLabelValues(status).Inc()
}

// RecordSessionEnd counts an end session attempt.
func (m *Metrics) RecordSessionEnd(reason, transport string) {
	if m == nil {
		return
	}
	m.SessionEnds.WithLabelValues(reason, transport).Inc()
}

// IncSessionRecovered counts an automatic session restart.
func (m *Metrics) IncSessionRecovered() {
	if m == nil {
		return
	}
	m.SessionRecovered.Inc()
}

// RecordRemoteCall records a session API call duration.
func (m *Metrics) RecordRemoteCall(call, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RemoteDuration.WithLabelValues(call, status).Observe(duration.Seconds())
}

// RecordBroadcast counts a broadcast message.
func (m *Metrics) RecordBroadcast(direction, msgType string) {
	if m == nil {
		return
	}
	m.Broadcasts.WithLabelValues(direction, msgType).Inc()
}

// SetStreamState marks state as the only active stream state.
func (m *Metrics) SetStreamState(state string) {
	if m == nil {
		return
	}
	for _, s := range streamStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.StreamState.WithLabelValues(s).Set(v)
	}
}

// SetBreakerState marks state as the only active state of breaker name.
func (m *Metrics) SetBreakerState(name, state string) {
	if m == nil {
		return
	}
	for _, s := range breakerStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.BreakerState.WithLabelValues(name, s).Set(v)
	}
}

// IncReconnectAttempts counts an automatic reconnect attempt.
func (m *Metrics) IncReconnectAttempts() {
	if m == nil {
		return
	}
	m.ReconnectAttempts.Inc()
}

// RecordStreamMessage counts an inbound frame outcome.
func (m *Metrics) RecordStreamMessage(outcome string) {
	if m == nil {
		return
	}
	m.StreamMessages.WithLabelValues(outcome).Inc()
}

// IncStreamGaveUp counts an exhausted reconnect budget.
func (m *Metrics) IncStreamGaveUp() {
	if m == nil {
		return
	}
	m.StreamGaveUp.Inc()
}

// SetSandboxSessions sets the sandbox session gauge.
func (m *Metrics) SetSandboxSessions(count int) {
	if m == nil {
		return
	}
	m.SandboxSessions.Set(float64(count))
}

// SetSandboxStreams sets the sandbox stream connection gauge.
func (m *Metrics) SetSandboxStreams(count int) {
	if m == nil {
		return
	}
	m.SandboxStreams.Set(float64(count))
}
