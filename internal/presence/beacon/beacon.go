// Package beacon delivers small requests that must be attempted even while
// the tab that queued them is going away.
//
// Send only queues: it copies the payload, starts delivery in the
// background and returns at once. A process that is about to exit calls
// Flush with a deadline to give queued deliveries a chance to finish;
// whatever is still in flight after that is abandoned.
package beacon

import (
	"bytes"
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/SupportDesk/presence/internal/auth"
	"github.com/GriffinCanCode/SupportDesk/presence/internal/infrastructure/logging"
)

const (
	// MaxPayload caps a single beacon body.
	MaxPayload = 64 << 10

	defaultTimeout = 5 * time.Second
)

// Sender is a best-effort teardown sender.
type Sender struct {
	client  *retryablehttp.Client
	logger  *zap.Logger
	tokens  auth.TokenSource
	timeout time.Duration

	mu      sync.Mutex
	closed  bool
	nextID  uint64
	pending map[uint64]chan struct{}

	stats struct {
		sync.Mutex
		queued, delivered, failed uint64
	}
}

// Option configures a Sender.
type Option func(*Sender)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Sender) {
		s.logger = logging.OrNop(l).Named("beacon")
	}
}

// WithTokenSource attaches a bearer token when one is available.
func WithTokenSource(tokens auth.TokenSource) Option {
	return func(s *Sender) {
		s.tokens = tokens
	}
}

// WithTimeout bounds one delivery, retries included.
func WithTimeout(d time.Duration) Option {
	return func(s *Sender) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithRetries sets how many times a failed delivery is retried.
func WithRetries(n int) Option {
	return func(s *Sender) {
		if n >= 0 {
			s.client.RetryMax = n
		}
	}
}

// New creates a Sender.
func New(opts ...Option) *Sender {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 100 * time.Millisecond
	client.RetryWaitMax = 500 * time.Millisecond

	s := &Sender{
		client:  client,
		logger:  zap.NewNop(),
		timeout: defaultTimeout,
		pending: make(map[uint64]chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	client.Logger = leveledLogger{s.logger.Sugar()}
	return s
}

// Send queues a POST of payload to url. It reports false when the sender
// is closed or the payload is too large; true means queued, not delivered.
func (s *Sender) Send(url string, payload []byte) bool {
	if url == "" || len(payload) > MaxPayload {
		return false
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	key := s.nextID
	s.nextID++
	done := make(chan struct{})
	s.pending[key] = done
	s.mu.Unlock()

	body := append([]byte(nil), payload...)
	s.stats.Lock()
	s.stats.queued++
	s.stats.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.pending, key)
			s.mu.Unlock()
			close(done)
		}()
		s.deliver(url, body)
	}()
	return true
}

func (s *Sender) deliver(url string, body []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		s.fail(url, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if s.tokens != nil {
		if token, err := s.tokens.AccessToken(ctx); err == nil && token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.fail(url, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		s.logger.Warn("Beacon rejected",
			zap.String("url", url),
			zap.Int("status", resp.StatusCode))
		s.stats.Lock()
		s.stats.failed++
		s.stats.Unlock()
		return
	}

	s.stats.Lock()
	s.stats.delivered++
	s.stats.Unlock()
}

func (s *Sender) fail(url string, err error) {
	s.logger.Warn("Beacon delivery failed", zap.String("url", url), zap.Error(err))
	s.stats.Lock()
	s.stats.failed++
	s.stats.Unlock()
}

// Flush waits up to timeout for the deliveries queued before the call. It
// reports whether all of them finished.
func (s *Sender) Flush(timeout time.Duration) bool {
	s.mu.Lock()
	waiting := make([]chan struct{}, 0, len(s.pending))
	for _, done := range s.pending {
		waiting = append(waiting, done)
	}
	s.mu.Unlock()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for _, done := range waiting {
		select {
		case <-done:
		case <-deadline.C:
			return false
		}
	}
	return true
}

// Close stops accepting beacons and flushes the queued ones.
func (s *Sender) Close(timeout time.Duration) bool {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.Flush(timeout)
}

// Stats returns queued, delivered and failed counts.
func (s *Sender) Stats() (queued, delivered, failed uint64) {
	s.stats.Lock()
	defer s.stats.Unlock()
	return s.stats.queued, s.stats.delivered, s.stats.failed
}

// leveledLogger adapts zap to retryablehttp's logger interface.
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, keysAndValues...)
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Infow(msg, keysAndValues...)
}

func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.s.Warnw(msg, keysAndValues...)
}
