package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFailed = errors.New("failed")

func succeed() error { return nil }
func fail() error    { return errFailed }

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func tripAfter(n uint32) func(Counts) bool {
	return func(c Counts) bool { return c.ConsecutiveFailures >= n }
}

// run feeds outcomes through b; 'o' is a success and 'x' a failure.
func run(b *Breaker, outcomes string) {
	for _, o := range outcomes {
		if o == 'o' {
			_ = b.Execute(succeed)
		} else {
			_ = b.Execute(fail)
		}
	}
}

func TestBreakerStateTransitions(t *testing.T) {
	tests := []struct {
		name     string
		trip     uint32
		outcomes string
		want     State
	}{
		{"successes keep it closed", 3, "ooo", StateClosed},
		{"consecutive failures open it", 3, "xxx", StateOpen},
		{"a success resets the streak", 2, "xox", StateClosed},
		{"heartbeat outage", 10, "oxxxxxxxxxx", StateOpen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New("session-api", Settings{ReadyToTrip: tripAfter(tt.trip)})
			run(b, tt.outcomes)
			assert.Equal(t, tt.want, b.State())
		})
	}
}

func TestBreakerCounts(t *testing.T) {
	b := New("test", Settings{})

	run(b, "oox")
	assert.Equal(t, Counts{
		Requests:            3,
		TotalSuccesses:      2,
		TotalFailures:       1,
		ConsecutiveFailures: 1,
	}, b.Counts())
}

func TestBreakerOpenState(t *testing.T) {
	b := New("test", Settings{ReadyToTrip: tripAfter(2)})
	run(b, "xx")
	require.Equal(t, StateOpen, b.State())

	err := b.Execute(func() error {
		t.Fatal("call must not run while open")
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestBreakerIsSuccessful(t *testing.T) {
	errAnswer := errors.New("session not found")
	breaker := New("test", Settings{
		ReadyToTrip: tripAfter(1),
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, errAnswer)
		},
	})

	err := breaker.Execute(func() error { return errAnswer })
	assert.ErrorIs(t, err, errAnswer)
	assert.Equal(t, StateClosed, breaker.State())
	assert.Equal(t, uint32(1), breaker.Counts().TotalSuccesses)
}

func TestBreakerHalfOpenState(t *testing.T) {
	clock := newClock()
	breaker := New("test", Settings{
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: tripAfter(2),
		Now: clock.Now,
	})

	for i := 0; i < 2; i++ {
		_ = breaker.Execute(fail)
	}
	assert.Equal(t, StateOpen, breaker.State())

	clock.Advance(29 * time.Second)
	assert.ErrorIs(t, breaker.Execute(succeed), ErrCircuitOpen)

	clock.Advance(2 * time.Second)
	assert.Equal(t, StateHalfOpen, breaker.State())

	for i := 0; i < 2; i++ {
		require.NoError(t, breaker.Execute(succeed))
	}
	assert.Equal(t, StateClosed, breaker.State())
}

func TestBreakerCallbacks(t *testing.T) {
	var transitions []string

	clock := newClock()
	breaker := New("test", Settings{
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     10 * time.Second,
		Now:         clock.Now,
		ReadyToTrip: tripAfter(2),
		OnStateChange: func(name string, from State, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	for i := 0; i < 2; i++ {
		_ = breaker.Execute(fail)
	}

	clock.Advance(11 * time.Second)
	assert.Equal(t, StateHalfOpen, breaker.State())

	require.NoError(t, breaker.Execute(succeed))
	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}

func TestBreakerIntervalClearsCounts(t *testing.T) {
	clock := newClock()
	breaker := New("test", Settings{
		Interval: time.Minute,
		ReadyToTrip: tripAfter(3),
		Now: clock.Now,
	})

	_ = breaker.Execute(fail)
	_ = breaker.Execute(fail)
	clock.Advance(61 * time.Second)
	_ = breaker.Execute(fail)

	assert.Equal(t, StateClosed, breaker.State())
	assert.Equal(t, uint32(1), breaker.Counts().ConsecutiveFailures)
}

func TestBreakerAllowTwoStep(t *testing.T) {
	clock := newClock()
	breaker := New("test", Settings{
		MaxRequests: 1,
		Timeout:     time.Second,
		ReadyToTrip: tripAfter(1),
		Now:         clock.Now,
	})

	done, err := breaker.Allow()
	require.NoError(t, err)
	done(false)
	assert.Equal(t, StateOpen, breaker.State())

	_, err = breaker.Allow()
	assert.ErrorIs(t, err, ErrCircuitOpen)

	clock.Advance(2 * time.Second)
	probe, err := breaker.Allow()
	require.NoError(t, err)

	_, err = breaker.Allow()
	assert.ErrorIs(t, err, ErrTooManyRequests)

	probe(true)
	assert.Equal(t, StateClosed, breaker.State())
}

func TestBreakerIgnoresStaleOutcomes(t *testing.T) {
	clock := newClock()
	breaker := New("test", Settings{
		Interval:    time.Minute,
		ReadyToTrip: tripAfter(1),
		Now:         clock.Now,
	})

	slow, err := breaker.Allow()
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	slow(false)

	assert.Equal(t, StateClosed, breaker.State())
	assert.Zero(t, breaker.Counts().TotalFailures)
}

func TestBreakerPanicCountsAsFailure(t *testing.T) {
	breaker := New("test", Settings{
		ReadyToTrip: tripAfter(1),
	})

	assert.Panics(t, func() {
		_ = breaker.Execute(func() error { panic("boom") })
	})
	assert.Equal(t, StateOpen, breaker.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}
