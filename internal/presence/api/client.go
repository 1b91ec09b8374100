package api

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/SupportDesk/presence/internal/auth"
	"github.com/GriffinCanCode/SupportDesk/presence/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/SupportDesk/presence/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/SupportDesk/presence/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/SupportDesk/presence/internal/shared/id"
)

const (
	defaultTimeout = 10 * time.Second
	endAttempts    = 3
	endBackoff     = 200 * time.Millisecond
)

// Client calls the session contracts.
type Client struct {
	baseURL string
	resty   *resty.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
	tokens  auth.TokenSource
	metrics *monitoring.Metrics
	mu      sync.RWMutex
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.resty.SetTimeout(d)
		}
	}
}

// WithRateLimit caps outgoing requests per second; 0 means unlimited.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		c.limiter = newLimiter(rps)
	}
}

// WithTokenSource attaches the current access token as a bearer token.
func WithTokenSource(tokens auth.TokenSource) Option {
	return func(c *Client) {
		c.tokens = tokens
	}
}

// WithBreaker replaces the default circuit breaker. Nil disables it.
func WithBreaker(b *resilience.Breaker) Option {
	return func(c *Client) {
		c.breaker = b
	}
}

// WithMetrics records call durations.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithTracer opens a client span around every request.
func WithTracer(t *tracing.Tracer) Option {
	return func(c *Client) {
		if t != nil {
			c.resty.SetTransport(t.RoundTripper(c.resty.GetClient().Transport))
		}
	}
}

// NewClient creates a session API client for baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	// Pooled transport from the retryable client; retries themselves are
	// the heartbeat loop's job, so resty's retry count stays at zero.
	retryClient := retryablehttp.NewClient()
	retryClient.Logger = nil

	restyClient := resty.New()
	restyClient.
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(defaultTimeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", UserAgent)
	restyClient.SetTransport(retryClient.HTTPClient.Transport)
	restyClient.JSONMarshal = sonic.Marshal
	restyClient.JSONUnmarshal = sonic.Unmarshal

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		resty:   restyClient,
		limiter: newLimiter(0),
		breaker: DefaultBreaker(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DefaultBreaker returns the breaker used by NewClient: it opens after ten
// consecutive transport failures and never counts a "session not found"
// answer against the server.
func DefaultBreaker() *resilience.Breaker {
	return resilience.New("session-api", resilience.Settings{
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 10
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrSessionNotFound)
		},
	})
}

// UserAgent identifies the presence client on every request.
const UserAgent = "SupportDesk-Presence/1.0"

// Start registers (or re-registers) a tab in a session. The server treats
// it as an idempotent upsert keyed by session id.
func (c *Client) Start(ctx context.Context, req StartRequest) error {
	return c.guarded("start", func() error {
		return c.post(ctx, StartPath, req)
	})
}

// Heartbeat marks the session alive. A forgotten session yields an error
// matching ErrSessionNotFound.
func (c *Client) Heartbeat(ctx context.Context, req HeartbeatRequest) error {
	return c.guarded("heartbeat", func() error {
		return c.post(ctx, HeartbeatPath, req)
	})
}

// End closes the tab's part of the session. It bypasses the breaker and
// retries transport failures a few times, since logout must get through.
func (c *Client) End(ctx context.Context, req EndRequest) error {
	done := c.metrics.StartCall("end")

	var err error
	for attempt := 1; attempt <= endAttempts; attempt++ {
		err = c.post(ctx, EndPath, req)
		var rerr *RemoteError
		if err == nil || errors.As(err, &rerr) {
			break
		}
		if attempt == endAttempts {
			break
		}
		select {
		case <-ctx.Done():
			done("error")
			return fmt.Errorf("end session: %w", ctx.Err())
		case <-time.After(endBackoff * time.Duration(attempt)):
		}
	}

	done(callStatus(err))
	return err
}

// EndURL is the absolute URL of the end contract, for the teardown sender.
func (c *Client) EndURL() string {
	return c.baseURL + EndPath
}

func (c *Client) guarded(call string, fn func() error) error {
	done := c.metrics.StartCall(call)

	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(fn)
		c.metrics.SetBreakerState(c.breaker.Name(), c.breaker.State().String())
	} else {
		err = fn()
	}

	done(callStatus(err))
	return err
}

func (c *Client) post(ctx context.Context, path string, body interface{}) error {
	req, err := c.request(ctx)
	if err != nil {
		return err
	}

	resp, err := req.SetBody(body).Post(path)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	if resp.IsError() {
		return decodeRemoteError(resp.StatusCode(), resp.Body())
	}
	return nil
}

// request creates a new request after waiting on the rate limiter.
func (c *Client) request(ctx context.Context) (*resty.Request, error) {
	c.mu.RLock()
	limiter := c.limiter
	c.mu.RUnlock()

	if err := limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit error: %w", err)
	}

	req := c.resty.R().
		SetContext(ctx).
		SetHeader("X-Request-ID", id.NewRequestID().String())
	tracing.Inject(ctx, req.Header)

	if c.tokens != nil {
		// Missing token: send unauthenticated and let the server decide.
		if token, err := c.tokens.AccessToken(ctx); err == nil && token != "" {
			req.SetAuthToken(token)
		}
	}
	return req, nil
}

// SetRateLimit changes the request rate; 0 means unlimited.
func (c *Client) SetRateLimit(rps float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.limiter = newLimiter(rps)
}

func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

func callStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrSessionNotFound):
		return "not_found"
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "circuit_open"
	default:
		return "error"
	}
}
