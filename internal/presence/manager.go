package presence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/SupportDesk/presence/internal/infrastructure/logging"
	"github.com/GriffinCanCode/SupportDesk/presence/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/SupportDesk/presence/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/SupportDesk/presence/internal/presence/api"
	"github.com/GriffinCanCode/SupportDesk/presence/internal/presence/broadcast"
)

const (
	// DefaultHeartbeatInterval is how often an active tab heartbeats.
	DefaultHeartbeatInterval = 30 * time.Second

	defaultEndTimeout = 5 * time.Second
)

// SessionAPI is the remote session collaborator.
type SessionAPI interface {
	Start(ctx context.Context, req api.StartRequest) error
	Heartbeat(ctx context.Context, req api.HeartbeatRequest) error
	End(ctx context.Context, req api.EndRequest) error
	EndURL() string
}

// TeardownSender queues a request that should survive the tab going away.
// Send reports whether the request was queued, not whether it arrived.
type TeardownSender interface {
	Send(url string, payload []byte) bool
}

// BroadcastBus reaches the other live tabs of the profile.
type BroadcastBus interface {
	Publish(msg broadcast.Message) error
	Subscribe(h broadcast.Handler) func()
	Close() error
}

// Deps are the collaborators a Manager is built on. All are required.
type Deps struct {
	Durable   KeyValueStore
	TabScoped KeyValueStore
	API       SessionAPI
	Bus       BroadcastBus
	Teardown  TeardownSender
}

// Config tunes a Manager. Zero values take defaults.
type Config struct {
	HeartbeatInterval time.Duration
	// EndTimeout bounds the logout end call made while unmounting.
	EndTimeout time.Duration
	Screen     Screen
	Logger     *zap.Logger
	Metrics    *monitoring.Metrics
	Now        func() time.Time
}

// Stats is a point-in-time view of a manager.
type Stats struct {
	State             State
	SessionID         string
	TabID             string
	Visible           bool
	LastHeartbeat     time.Time
	HeartbeatsSent    uint64
	HeartbeatsSkipped uint64
	HeartbeatsFailed  uint64
	Starts            uint64
	StartFailures     uint64
	Recoveries        uint64
}

// Manager is the per-tab session presence manager.
type Manager struct {
	identity *Identity
	api      SessionAPI
	bus      BroadcastBus
	teardown TeardownSender

	interval   time.Duration
	endTimeout time.Duration
	screen     Screen
	logger     *zap.Logger
	metrics    *monitoring.Metrics
	now        func() time.Time

	// startMu serialises StartSession so a tick and a recovery never
	// start twice concurrently.
	startMu sync.Mutex

	mu          sync.Mutex
	state       State
	visible     bool
	mounted     bool
	closed      bool
	sessionID   string
	tabID       string
	ctx         context.Context
	cancel      context.CancelFunc
	loopDone    chan struct{}
	unsubscribe func()
	stats       Stats

	// inflight tracks out-of-cycle heartbeats fired on resume.
	inflight sync.WaitGroup
}

// New creates a Manager. It does nothing until Mount.
func New(deps Deps, cfg Config) (*Manager, error) {
	switch {
	case deps.Durable == nil:
		return nil, fmt.Errorf("%w: durable store", ErrMissingDependency)
	case deps.TabScoped == nil:
		return nil, fmt.Errorf("%w: tab-scoped store", ErrMissingDependency)
	case deps.API == nil:
		return nil, fmt.Errorf("%w: session api", ErrMissingDependency)
	case deps.Bus == nil:
		return nil, fmt.Errorf("%w: broadcast bus", ErrMissingDependency)
	case deps.Teardown == nil:
		return nil, fmt.Errorf("%w: teardown sender", ErrMissingDependency)
	}

	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.EndTimeout <= 0 {
		cfg.EndTimeout = defaultEndTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Manager{
		identity:   NewIdentity(deps.Durable, deps.TabScoped),
		api:        deps.API,
		bus:        deps.Bus,
		teardown:   deps.Teardown,
		interval:   cfg.HeartbeatInterval,
		endTimeout: cfg.EndTimeout,
		screen:     cfg.Screen,
		logger:     logging.OrNop(cfg.Logger).Named("presence"),
		metrics:    cfg.Metrics,
		now:        cfg.Now,
		state:      StateIdle,
		visible:    true,
	}, nil
}

// Identity exposes the manager's id cache.
func (m *Manager) Identity() *Identity {
	return m.identity
}

// Mount subscribes to the broadcast bus, starts the session and starts the
// heartbeat loop. A failed start is logged and retried on the next tick.
func (m *Manager) Mount(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.mounted {
		m.mu.Unlock()
		return ErrAlreadyMounted
	}
	m.mounted = true

	loopCtx, cancel := context.WithCancel(ctx)
	m.ctx = loopCtx
	m.cancel = cancel
	m.loopDone = make(chan struct{})
	done := m.loopDone
	m.unsubscribe = m.bus.Subscribe(m.handleBroadcast)
	m.mu.Unlock()

	if err := m.StartSession(loopCtx); err != nil {
		m.logger.Warn("Initial session start failed, retrying on next tick", zap.Error(err))
	}

	go m.run(loopCtx, done)
	return nil
}

// StartSession registers this tab with the server. On success the manager
// is ACTIVE, or SUSPENDED when the tab is hidden. On failure it stays in
// STARTING and the next tick tries again.
func (m *Manager) StartSession(ctx context.Context) error {
	return m.start(ctx, nil)
}

// restart is StartSession for the loop's own recoveries. It does nothing
// once a logout or unmount has ended the session.
func (m *Manager) restart(ctx context.Context) error {
	return m.start(ctx, func(s State) bool {
		return s == StateStarting || s == StateActive || s == StateSuspended
	})
}

func (m *Manager) start(ctx context.Context, allowed func(State) bool) error {
	m.startMu.Lock()
	defer m.startMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if allowed != nil && !allowed(m.state) {
		m.mu.Unlock()
		return nil
	}
	m.state = StateStarting
	m.mu.Unlock()

	sessionID, err := m.identity.SessionID()
	if err != nil {
		m.recordStartFailure()
		return fmt.Errorf("resolve session id: %w", err)
	}
	tabID, err := m.identity.TabID()
	if err != nil {
		m.recordStartFailure()
		return fmt.Errorf("resolve tab id: %w", err)
	}

	m.mu.Lock()
	m.sessionID = sessionID
	m.tabID = tabID
	m.mu.Unlock()

	err = m.api.Start(ctx, api.StartRequest{
		SessionID:  sessionID,
		TabID:      tabID,
		DeviceInfo: CaptureDevice(m.screen, m.now()),
	})
	if err != nil {
		m.recordStartFailure()
		m.logger.Warn("Failed to start session",
			logging.SessionID(sessionID),
			logging.TabID(tabID),
			zap.Error(err))
		return fmt.Errorf("start session: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.Starts++
	m.metrics.RecordSessionStart("ok")

	// Logout or unmount won while the call was in flight.
	if m.state != StateStarting {
		return nil
	}
	if m.visible {
		m.state = StateActive
	} else {
		m.state = StateSuspended
	}

	m.logger.Info("Session started",
		logging.SessionID(sessionID),
		logging.TabID(tabID))
	return nil
}

func (m *Manager) recordStartFailure() {
	m.mu.Lock()
	m.stats.StartFailures++
	m.mu.Unlock()
	m.metrics.RecordSessionStart("error")
}

func (m *Manager) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(tracing.WithTraceID(ctx, tracing.NewTraceID()))
		}
	}
}

// tick runs one heartbeat interval.
func (m *Manager) tick(ctx context.Context) {
	m.mu.Lock()
	state := m.state
	if state == StateSuspended {
		m.stats.HeartbeatsSkipped++
	}
	m.mu.Unlock()

	switch state {
	case StateSuspended:
		m.metrics.RecordHeartbeat("skipped")
	case StateStarting:
		if err := m.restart(ctx); err != nil {
			m.logger.Debug("Session start retry failed", zap.Error(err))
		}
	case StateActive:
		m.heartbeat(ctx)
	}
}

// heartbeat sends one heartbeat and applies the recovery rules.
func (m *Manager) heartbeat(ctx context.Context) {
	if m.adoptStoredSession(ctx) {
		return
	}

	m.mu.Lock()
	if m.state != StateActive {
		m.mu.Unlock()
		return
	}
	req := api.HeartbeatRequest{SessionID: m.sessionID, TabID: m.tabID}
	m.mu.Unlock()

	err := m.api.Heartbeat(ctx, req)
	switch {
	case err == nil:
		m.mu.Lock()
		m.stats.HeartbeatsSent++
		m.stats.LastHeartbeat = m.now()
		m.mu.Unlock()
		m.metrics.RecordHeartbeat("sent")

	case errors.Is(err, api.ErrSessionNotFound):
		m.mu.Lock()
		m.stats.Recoveries++
		m.mu.Unlock()
		m.metrics.RecordHeartbeat("not_found")
		m.metrics.IncSessionRecovered()

		m.logger.Info("Server forgot session, restarting",
			logging.SessionID(req.SessionID),
			logging.TabID(req.TabID))
		if err := m.restart(ctx); err != nil {
			m.logger.Warn("Session recovery failed", zap.Error(err))
		}

	default:
		m.mu.Lock()
		m.stats.HeartbeatsFailed++
		m.mu.Unlock()
		m.metrics.RecordHeartbeat("failed")

		if ctx.Err() == nil {
			m.logger.Warn("Heartbeat failed",
				logging.SessionID(req.SessionID),
				zap.Error(err))
		}
	}
}

// adoptStoredSession converges on the id another tab wrote after this
// tab started. It reports whether it restarted the session.
func (m *Manager) adoptStoredSession(ctx context.Context) bool {
	stored, ok, err := m.identity.PeekSessionID()
	if err != nil || !ok {
		return false
	}

	m.mu.Lock()
	current := m.sessionID
	m.mu.Unlock()
	if stored == current {
		return false
	}

	m.logger.Info("Adopting session id written by another tab",
		zap.String("previous", current),
		logging.SessionID(stored))
	if err := m.restart(ctx); err != nil {
		m.logger.Warn("Failed to start adopted session", zap.Error(err))
	}
	return true
}

// SetVisible feeds the visibility signal. Hiding suspends heartbeats;
// showing resumes them and sends one heartbeat straight away.
func (m *Manager) SetVisible(visible bool) {
	m.mu.Lock()
	if m.visible == visible {
		m.mu.Unlock()
		return
	}
	m.visible = visible

	resume := false
	switch {
	case !visible && m.state == StateActive:
		m.state = StateSuspended
	case visible && m.state == StateSuspended:
		m.state = StateActive
		resume = m.ctx != nil && !m.closed
	}
	ctx := m.ctx
	if resume {
		m.inflight.Add(1)
	}
	m.mu.Unlock()

	if resume {
		go func() {
			defer m.inflight.Done()
			m.heartbeat(tracing.WithTraceID(ctx, tracing.NewTraceID()))
		}()
	}
}

// EndSession ends this tab's part of the session. Logout uses a normal
// request and reports its outcome; the close reasons go through the
// teardown sender and only report whether the call was queued.
func (m *Manager) EndSession(ctx context.Context, reason Reason) error {
	if err := reason.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	m.state = StateEnded
	req := api.EndRequest{SessionID: m.sessionID, TabID: m.tabID, Reason: string(reason)}
	m.mu.Unlock()

	if req.SessionID == "" {
		stored, ok, err := m.identity.PeekSessionID()
		if err != nil || !ok {
			m.logger.Debug("No session to end", zap.String("reason", string(reason)))
			return nil
		}
		req.SessionID = stored
	}

	if reason == ReasonLogout {
		m.metrics.RecordSessionEnd(string(reason), "request")
		if err := m.api.End(ctx, req); err != nil {
			m.logger.Warn("Failed to end session",
				logging.SessionID(req.SessionID),
				zap.Error(err))
			return fmt.Errorf("end session: %w", err)
		}
		m.logger.Info("Session ended", logging.SessionID(req.SessionID))
		return nil
	}

	payload, err := sonic.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode end request: %w", err)
	}
	m.metrics.RecordSessionEnd(string(reason), "teardown")
	if !m.teardown.Send(m.api.EndURL(), payload) {
		return ErrTeardownRejected
	}
	m.logger.Debug("Queued session end",
		logging.SessionID(req.SessionID),
		zap.String("reason", string(reason)))
	return nil
}

// Logout ends the session, clears the stored ids and tells sibling tabs.
// Every step runs even when an earlier one fails.
func (m *Manager) Logout(ctx context.Context) error {
	var errs []error

	if err := m.EndSession(ctx, ReasonLogout); err != nil {
		errs = append(errs, err)
	}

	if err := m.identity.Clear(); err != nil {
		errs = append(errs, err)
	}
	m.mu.Lock()
	m.sessionID = ""
	m.tabID = ""
	m.mu.Unlock()

	if err := m.bus.Publish(broadcast.Message{Type: broadcast.TypeLogout}); err != nil {
		errs = append(errs, fmt.Errorf("broadcast logout: %w", err))
	} else {
		m.metrics.RecordBroadcast("out", broadcast.TypeLogout)
	}

	return errors.Join(errs...)
}

func (m *Manager) handleBroadcast(msg broadcast.Message) {
	if msg.Type != broadcast.TypeLogout {
		m.logger.Debug("Ignoring broadcast", zap.String("type", msg.Type))
		return
	}
	m.metrics.RecordBroadcast("in", msg.Type)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.state = StateEnded
	m.sessionID = ""
	m.tabID = ""
	m.mu.Unlock()

	if err := m.identity.Clear(); err != nil {
		m.logger.Warn("Failed to clear session after remote logout", zap.Error(err))
		return
	}
	m.logger.Info("Logged out in another tab")
}

// Unmount tears the manager down: it stops the loop, drops the bus
// subscription, closes the bus and makes a best-effort end call for a live
// session. It does not wait for teardown delivery.
func (m *Manager) Unmount(reason Reason) error {
	if err := reason.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	cancel, done, unsubscribe := m.cancel, m.loopDone, m.unsubscribe
	live := m.state == StateStarting || m.state == StateActive || m.state == StateSuspended
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	m.inflight.Wait()

	if unsubscribe != nil {
		unsubscribe()
	}

	var errs []error
	if err := m.bus.Close(); err != nil && !errors.Is(err, broadcast.ErrClosed) {
		errs = append(errs, fmt.Errorf("close broadcast bus: %w", err))
	}

	if live {
		ctx, cancelEnd := context.WithTimeout(context.Background(), m.endTimeout)
		defer cancelEnd()
		if err := m.EndSession(ctx, reason); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// State returns the heartbeat engine state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Stats returns a snapshot of the manager.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.stats
	s.State = m.state
	s.SessionID = m.sessionID
	s.TabID = m.tabID
	s.Visible = m.visible
	return s
}
