package resilience

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrCircuitOpen rejects calls while the breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrTooManyRequests rejects calls beyond the half-open trial budget.
	ErrTooManyRequests = errors.New("too many requests")
)

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

var stateNames = [...]string{
	StateClosed:   "closed",
	StateHalfOpen: "half-open",
	StateOpen:     "open",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Settings configures a Breaker. Zero values take the defaults noted.
type Settings struct {
	// MaxRequests is the number of trial calls allowed while half-open,
	// and the successes needed to close again. Default 1.
	MaxRequests uint32
	// Interval clears the closed-state counts periodically. Default 60s.
	Interval time.Duration
	// Timeout is how long the breaker stays open. Default 60s.
	Timeout time.Duration
	// ReadyToTrip decides, after a failure while closed, whether to open.
	// Default: more than five consecutive failures.
	ReadyToTrip func(counts Counts) bool
	// IsSuccessful classifies a call result. Errors that are a valid answer
	// from the remote side should return true. Default err == nil.
	IsSuccessful func(err error) bool
	// OnStateChange is called with the breaker locked; it must not call
	// back into the breaker.
	OnStateChange func(name string, from State, to State)
	// Now defaults to time.Now.
	Now func() time.Time
}

func (s *Settings) applyDefaults() {
	if s.MaxRequests == 0 {
		s.MaxRequests = 1
	}
	if s.Interval <= 0 {
		s.Interval = 60 * time.Second
	}
	if s.Timeout <= 0 {
		s.Timeout = 60 * time.Second
	}
	if s.ReadyToTrip == nil {
		s.ReadyToTrip = func(c Counts) bool { return c.ConsecutiveFailures > 5 }
	}
	if s.IsSuccessful == nil {
		s.IsSuccessful = func(err error) bool { return err == nil }
	}
	if s.Now == nil {
		s.Now = time.Now
	}
}

// Counts are the call statistics of the current epoch. An epoch ends on
// every state change and every closed-state interval.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

func (c *Counts) success() {
	c.TotalSuccesses++
	c.ConsecutiveSuccesses++
	c.ConsecutiveFailures = 0
}

func (c *Counts) failure() {
	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

// Breaker guards calls to a remote collaborator.
type Breaker struct {
	name string
	cfg  Settings

	mu       sync.Mutex
	state    State
	epoch    uint64
	counts   Counts
	deadline time.Time // end of the closed interval or of the open timeout
}

// New creates a breaker. The name labels its metrics and callbacks.
func New(name string, settings Settings) *Breaker {
	settings.applyDefaults()
	b := &Breaker{name: name, cfg: settings}
	b.deadline = settings.Now().Add(settings.Interval)
	return b
}

// Name returns the name of the circuit breaker
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state, applying any elapsed timeout.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance(b.cfg.Now())
	return b.state
}

// Counts returns the counts of the current epoch.
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Allow asks to make one call. On success the caller must report the
// outcome through done exactly once.
func (b *Breaker) Allow() (done func(success bool), err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.advance(b.cfg.Now())
	switch {
	case b.state == StateOpen:
		return nil, ErrCircuitOpen
	case b.state == StateHalfOpen && b.counts.Requests >= b.cfg.MaxRequests:
		return nil, ErrTooManyRequests
	}
	b.counts.Requests++

	epoch := b.epoch
	return func(success bool) { b.record(epoch, success) }, nil
}

// Execute runs call if the breaker accepts it and returns call's error
// unchanged. A rejected call returns ErrCircuitOpen or ErrTooManyRequests.
// A panicking call counts as a failure.
func (b *Breaker) Execute(call func() error) error {
	done, err := b.Allow()
	if err != nil {
		return err
	}

	ok := false
	defer func() {
		if !ok {
			done(false)
		}
	}()

	err = call()
	ok = true
	done(b.cfg.IsSuccessful(err))
	return err
}

// record applies an outcome. Outcomes from an earlier epoch are stale and
// ignored.
func (b *Breaker) record(epoch uint64, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.cfg.Now()
	b.advance(now)
	if epoch != b.epoch {
		return
	}

	if success {
		b.counts.success()
		if b.state == StateHalfOpen && b.counts.ConsecutiveSuccesses >= b.cfg.MaxRequests {
			b.moveTo(StateClosed, now)
		}
		return
	}

	switch b.state {
	case StateClosed:
		b.counts.failure()
		if b.cfg.ReadyToTrip(b.counts) {
			b.moveTo(StateOpen, now)
		}
	case StateHalfOpen:
		b.moveTo(StateOpen, now)
	}
}

// advance applies the time-driven transitions.
func (b *Breaker) advance(now time.Time) {
	if b.state == StateHalfOpen || !now.After(b.deadline) {
		return
	}
	switch b.state {
	case StateClosed:
		b.startEpoch(now)
	case StateOpen:
		b.moveTo(StateHalfOpen, now)
	}
}

func (b *Breaker) moveTo(to State, now time.Time) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.startEpoch(now)

	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.name, from, to)
	}
}

func (b *Breaker) startEpoch(now time.Time) {
	b.epoch++
	b.counts = Counts{}

	switch b.state {
	case StateClosed:
		b.deadline = now.Add(b.cfg.Interval)
	case StateOpen:
		b.deadline = now.Add(b.cfg.Timeout)
	default:
		// Half-open waits for trial outcomes, not the clock.
		b.deadline = time.Time{}
	}
}
