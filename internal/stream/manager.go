package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/SupportDesk/presence/internal/auth"
	"github.com/GriffinCanCode/SupportDesk/presence/internal/infrastructure/logging"
	"github.com/GriffinCanCode/SupportDesk/presence/internal/infrastructure/monitoring"
)

const (
	DefaultReconnectDelay       = 3 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultHandshakeTimeout     = 10 * time.Second

	closeWriteTimeout = time.Second
)

// Config configures a Manager. Start from DefaultConfig: the zero value
// has auto-reconnect disabled.
type Config struct {
	URL                  string
	AutoReconnect        bool
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	HandshakeTimeout     time.Duration

	Tokens  auth.TokenSource
	Logger  *zap.Logger
	Metrics *monitoring.Metrics
}

// DefaultConfig returns the default configuration for url.
func DefaultConfig(url string) Config {
	return Config{
		URL:                  url,
		AutoReconnect:        true,
		ReconnectDelay:       DefaultReconnectDelay,
		MaxReconnectAttempts: DefaultMaxReconnectAttempts,
		HandshakeTimeout:     DefaultHandshakeTimeout,
	}
}

// Handlers are the stream callbacks. Any may be nil.
type Handlers struct {
	OnMessage    func(Envelope)
	OnConnect    func()
	OnDisconnect func(code int)
	OnError      func(error)
}

// Manager owns one websocket connection and its reconnect schedule.
type Manager struct {
	cfg     Config
	dialer  *websocket.Dialer
	logger  *zap.Logger
	metrics *monitoring.Metrics

	// handlers is read at event time, so SetHandlers takes effect for
	// events on connections that are already open.
	handlers atomic.Pointer[Handlers]

	mu         sync.Mutex
	state      State
	conn       *websocket.Conn
	gen        uint64
	attempts   int
	timer      *time.Timer
	timerSeq   uint64
	dialCancel context.CancelFunc
	err        error
	last       *Envelope
	tornDown   bool

	writeMu sync.Mutex
}

// New creates a Manager. It does not connect.
func New(cfg Config) (*Manager, error) {
	if cfg.URL == "" {
		return nil, errors.New("stream url is required")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("invalid stream url: %w", err)
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.MaxReconnectAttempts < 0 {
		cfg.MaxReconnectAttempts = 0
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}

	m := &Manager{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		logger:  logging.OrNop(cfg.Logger).Named("stream"),
		metrics: cfg.Metrics,
	}
	m.handlers.Store(&Handlers{})
	m.metrics.SetStreamState(StateDisconnected.String())
	return m, nil
}

// SetHandlers replaces the callbacks.
func (m *Manager) SetHandlers(h Handlers) {
	m.handlers.Store(&h)
}

func (m *Manager) current() Handlers {
	return *m.handlers.Load()
}

// Connect opens the stream. It is a no-op while connected. The dial runs
// in the background; the outcome arrives through the handlers. A missing
// token fails at once with a *ConnectionError and schedules nothing.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.tornDown {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.state == StateConnected {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	token, err := m.token(ctx)
	if err != nil {
		cerr := &ConnectionError{Err: err}
		m.mu.Lock()
		if m.tornDown {
			m.mu.Unlock()
			return ErrClosed
		}
		m.err = cerr
		m.mu.Unlock()

		m.logger.Warn("Cannot connect stream without access token", zap.Error(err))
		m.emitError(cerr)
		return cerr
	}

	target, err := m.streamURL(token)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.tornDown {
		m.mu.Unlock()
		return ErrClosed
	}
	stale := m.conn
	m.conn = nil
	if m.dialCancel != nil {
		m.dialCancel()
	}
	m.stopTimerLocked()
	m.gen++
	gen := m.gen
	m.state = StateConnecting
	m.err = nil
	dialCtx, cancel := context.WithCancel(context.Background())
	m.dialCancel = cancel
	m.mu.Unlock()

	if stale != nil {
		m.closeConn(stale, websocket.CloseNormalClosure)
	}
	m.metrics.SetStreamState(StateConnecting.String())

	go m.dial(dialCtx, gen, target)
	return nil
}

func (m *Manager) token(ctx context.Context) (string, error) {
	if m.cfg.Tokens == nil {
		return "", ErrMissingToken
	}
	token, err := m.cfg.Tokens.AccessToken(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMissingToken, err)
	}
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}

func (m *Manager) streamURL(token string) (string, error) {
	u, err := url.Parse(m.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("invalid stream url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (m *Manager) dial(ctx context.Context, gen uint64, target string) {
	conn, resp, err := m.dialer.DialContext(ctx, target, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if !m.isCurrent(gen) {
			return
		}
		m.logger.Debug("Stream dial failed", zap.Error(err))
		m.emitErrorFor(gen, fmt.Errorf("dial stream: %w", err))
		m.handleClose(gen, websocket.CloseAbnormalClosure)
		return
	}

	m.mu.Lock()
	if m.tornDown || gen != m.gen {
		m.mu.Unlock()
		conn.Close()
		return
	}
	m.conn = conn
	m.state = StateConnected
	m.attempts = 0
	m.err = nil
	m.dialCancel = nil
	m.mu.Unlock()

	m.metrics.SetStreamState(StateConnected.String())
	m.logger.Info("Stream connected")

	if h := m.current(); h.OnConnect != nil && m.isCurrent(gen) {
		h.OnConnect()
	}

	m.readLoop(conn, gen)
}

func (m *Manager) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			code := websocket.CloseAbnormalClosure
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				code = closeErr.Code
			} else {
				m.emitErrorFor(gen, fmt.Errorf("read stream: %w", err))
			}
			conn.Close()
			m.handleClose(gen, code)
			return
		}
		m.handleFrame(gen, frame)
	}
}

func (m *Manager) handleFrame(gen uint64, frame []byte) {
	env, err := ParseEnvelope(frame)
	if err != nil {
		m.logger.Warn("Dropping malformed stream frame",
			zap.Int("size", len(frame)),
			zap.Error(err))
		m.metrics.RecordStreamMessage("dropped")
		return
	}

	m.mu.Lock()
	if m.tornDown || gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.last = &env
	m.mu.Unlock()

	m.metrics.RecordStreamMessage("delivered")
	if h := m.current(); h.OnMessage != nil {
		h.OnMessage(env)
	}
}

// handleClose drives the state machine for a closed connection.
func (m *Manager) handleClose(gen uint64, code int) {
	m.mu.Lock()
	if m.tornDown || gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.dialCancel = nil
	m.state = StateDisconnected

	abnormal := code != websocket.CloseNormalClosure
	retry := m.cfg.AutoReconnect && abnormal && m.attempts < m.cfg.MaxReconnectAttempts
	gaveUp := m.cfg.AutoReconnect && abnormal && !retry

	var terminal error
	if retry {
		m.attempts++
		m.scheduleLocked(m.attempts)
	}
	if gaveUp {
		m.state = StateGaveUp
		terminal = &ConnectionError{Attempts: m.attempts, Err: ErrReconnectExhausted}
		m.err = terminal
	}
	attempts := m.attempts
	state := m.state
	m.mu.Unlock()

	m.metrics.SetStreamState(state.String())
	m.logger.Info("Stream closed",
		zap.Int("code", code),
		zap.Bool("reconnecting", retry),
		logging.Attempt(attempts))

	if h := m.current(); h.OnDisconnect != nil && !m.isTornDown() {
		h.OnDisconnect(code)
	}
	if terminal != nil {
		m.metrics.IncStreamGaveUp()
		m.logger.Warn("Giving up on stream", zap.Int("attempts", attempts))
		m.emitError(terminal)
	}
}

func (m *Manager) scheduleLocked(attempt int) {
	m.stopTimerLocked()
	m.timerSeq++
	seq := m.timerSeq
	m.timer = time.AfterFunc(m.cfg.ReconnectDelay, func() {
		m.reconnect(seq, attempt)
	})
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) reconnect(seq uint64, attempt int) {
	m.mu.Lock()
	if m.tornDown || seq != m.timerSeq || m.timer == nil {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.mu.Unlock()

	m.metrics.IncReconnectAttempts()
	m.logger.Info("Reconnecting stream", logging.Attempt(attempt))
	if err := m.Connect(context.Background()); err != nil && !errors.Is(err, ErrClosed) {
		m.logger.Warn("Reconnect failed", logging.Attempt(attempt), zap.Error(err))
	}
}

// Disconnect closes the stream with a normal closure and spends the retry
// budget so nothing reconnects until the next Connect.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.tornDown {
		m.mu.Unlock()
		return
	}
	m.attempts = m.cfg.MaxReconnectAttempts
	m.stopTimerLocked()
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}
	conn := m.conn
	m.conn = nil
	m.gen++
	wasOpen := m.state == StateConnected || m.state == StateConnecting
	m.state = StateDisconnected
	m.mu.Unlock()

	if conn != nil {
		m.closeConn(conn, websocket.CloseNormalClosure)
	}
	m.metrics.SetStreamState(StateDisconnected.String())

	if h := m.current(); wasOpen && h.OnDisconnect != nil {
		h.OnDisconnect(websocket.CloseNormalClosure)
	}
}

// Close tears the manager down: it cancels any pending reconnect, closes
// the connection normally and ignores every later event. Handlers already
// running when Close is called run to completion.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.tornDown {
		m.mu.Unlock()
		return nil
	}
	m.tornDown = true
	m.stopTimerLocked()
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}
	conn := m.conn
	m.conn = nil
	m.gen++
	m.state = StateDisconnected
	m.mu.Unlock()

	if conn != nil {
		m.closeConn(conn, websocket.CloseNormalClosure)
	}
	m.metrics.SetStreamState(StateDisconnected.String())
	return nil
}

func (m *Manager) closeConn(conn *websocket.Conn, code int) {
	msg := websocket.FormatCloseMessage(code, "")
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteTimeout)); err != nil {
		m.logger.Debug("Failed to send close frame", zap.Error(err))
	}
	conn.Close()
}

// SendJSON writes v as a text frame on the live connection.
func (m *Manager) SendJSON(v interface{}) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	data, err := sonic.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func (m *Manager) emitError(err error) {
	if h := m.current(); h.OnError != nil && !m.isTornDown() {
		h.OnError(err)
	}
}

func (m *Manager) emitErrorFor(gen uint64, err error) {
	if h := m.current(); h.OnError != nil && m.isCurrent(gen) {
		h.OnError(err)
	}
}

func (m *Manager) isCurrent(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.tornDown && gen == m.gen
}

func (m *Manager) isTornDown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tornDown
}

// State returns the connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempts returns the reconnect attempts since the last successful open.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Err returns the last connection error, or nil.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// LastMessage returns the most recent delivered envelope.
func (m *Manager) LastMessage() (Envelope, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return Envelope{}, false
	}
	return *m.last, true
}
