package sandbox

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/GriffinCanCode/SupportDesk/presence/internal/infrastructure/logging"
	"github.com/GriffinCanCode/SupportDesk/presence/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/SupportDesk/presence/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/SupportDesk/presence/internal/presence/api"
)

// DefaultSessionTTL is how long a silent session is remembered.
const DefaultSessionTTL = 90 * time.Second

// Config configures the sandbox server.
type Config struct {
	// SessionTTL defaults to DefaultSessionTTL; negative never expires.
	SessionTTL  time.Duration
	RateLimit   RateLimitConfig
	CORS        *CORSConfig
	Development bool
	Logger      *zap.Logger
	Metrics     *monitoring.Metrics
	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
	Now      func() time.Time
}

// Stats counts handled contract calls.
type Stats struct {
	Sessions   int
	Streams    int
	Starts     uint64
	Heartbeats uint64
	NotFound   uint64
	Ends       uint64
}

// Server is the sandbox HTTP server.
type Server struct {
	router   *gin.Engine
	sessions *sessionTable
	streams  *streamHub
	tracer   *tracing.Tracer
	logger   *zap.Logger
	metrics  *monitoring.Metrics

	counters struct {
		starts, heartbeats, notFound, ends atomic.Uint64
	}

	mu         sync.Mutex
	httpServer *http.Server
}

// New creates a sandbox server with its routes registered.
func New(cfg Config) *Server {
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	corsCfg := DefaultCORSConfig()
	if cfg.CORS != nil {
		corsCfg = *cfg.CORS
	}
	logger := logging.OrNop(cfg.Logger).Named("sandbox")

	if !cfg.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	tracer := tracing.New("presence-sandbox", logger, tracing.WithLevel(zapcore.DebugLevel))

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(cfg.Metrics, "/metrics", "/health"))
	router.Use(CORS(corsCfg))
	router.Use(RateLimit(cfg.RateLimit))

	s := &Server{
		router:   router,
		sessions: newSessionTable(cfg.SessionTTL, cfg.Now),
		streams:  newStreamHub(logger, cfg.Metrics),
		tracer:   tracer,
		logger:   logger,
		metrics:  cfg.Metrics,
	}

	router.GET("/health", s.Health)
	router.GET("/metrics", gin.WrapH(monitoring.Handler(cfg.Gatherer)))

	router.POST(api.StartPath, s.StartSession)
	router.POST(api.HeartbeatPath, s.Heartbeat)
	router.POST(api.EndPath, s.EndSession)

	router.GET("/ws", s.streams.HandleConnection)

	return s
}

// Handler returns the HTTP handler, for httptest servers.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve accepts connections on l until Shutdown.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info("Sandbox listening", zap.String("addr", l.Addr().String()))
	if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("sandbox server: %w", err)
	}
	return nil
}

// ListenAndServe listens on addr and serves until Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(l)
}

// Shutdown closes stream connections with "going away", stops the HTTP
// server and flushes pending spans.
func (s *Server) Shutdown(ctx context.Context) error {
	defer s.tracer.Close()
	s.streams.closeAll(websocket.CloseGoingAway)

	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Forget drops a session as if it had expired.
func (s *Server) Forget(sessionID string) bool {
	ok := s.sessions.forget(sessionID)
	s.metrics.SetSandboxSessions(s.sessions.count())
	return ok
}

// Session returns a live session.
func (s *Server) Session(sessionID string) (SessionInfo, bool) {
	return s.sessions.lookup(sessionID)
}

// Push sends v as a JSON frame to every stream and returns how many
// connections received it.
func (s *Server) Push(v interface{}) (int, error) {
	data, err := sonic.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("encode frame: %w", err)
	}
	return s.streams.push(data), nil
}

// PushRaw sends frame unmodified to every stream.
func (s *Server) PushRaw(frame []byte) int {
	return s.streams.push(frame)
}

// CloseStreams closes every stream connection with code.
func (s *Server) CloseStreams(code int) int {
	return s.streams.closeAll(code)
}

// SetRejectStreams makes new stream upgrades fail with 503.
func (s *Server) SetRejectStreams(reject bool) {
	s.streams.setReject(reject)
}

// Stats returns the server counters.
func (s *Server) Stats() Stats {
	return Stats{
		Sessions:   s.sessions.count(),
		Streams:    s.streams.count(),
		Starts:     s.counters.starts.Load(),
		Heartbeats: s.counters.heartbeats.Load(),
		NotFound:   s.counters.notFound.Load(),
		Ends:       s.counters.ends.Load(),
	}
}
