package broadcast

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu   sync.Mutex
	msgs []Message
}

func (r *recorder) handle(m Message) {
	r.mu.Lock()
	r.msgs = append(r.msgs, m)
	r.mu.Unlock()
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

type bus interface {
	Publish(Message) error
	Subscribe(Handler) func()
	Close() error
}

func TestBuses(t *testing.T) {
	factories := map[string]func(t *testing.T) (bus, bus, bus){
		"hub": func(t *testing.T) (bus, bus, bus) {
			hub := NewHub()
			return hub.Open("presence"), hub.Open("presence"), hub.Open("other")
		},
		"file": func(t *testing.T) (bus, bus, bus) {
			dir := t.TempDir()
			open := func(name string) bus {
				b, err := OpenFileBus(dir, name, 10*time.Millisecond, nil)
				require.NoError(t, err)
				return b
			}
			return open("presence"), open("presence"), open("other")
		},
	}

	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			a, b, other := factory(t)
			defer a.Close()
			defer b.Close()
			defer other.Close()

			var gotA, gotB, gotOther recorder
			a.Subscribe(gotA.handle)
			b.Subscribe(gotB.handle)
			other.Subscribe(gotOther.handle)

			require.NoError(t, a.Publish(Message{Type: TypeLogout}))

			assert.Eventually(t, func() bool { return gotB.count() == 1 }, time.Second, 5*time.Millisecond)

			// Publisher and other channels never see it.
			time.Sleep(50 * time.Millisecond)
			assert.Equal(t, 0, gotA.count())
			assert.Equal(t, 0, gotOther.count())

			gotB.mu.Lock()
			assert.Equal(t, TypeLogout, gotB.msgs[0].Type)
			gotB.mu.Unlock()
		})
	}
}

func TestUnsubscribe(t *testing.T) {
	hub := NewHub()
	a, b := hub.Open("c"), hub.Open("c")
	defer a.Close()
	defer b.Close()

	var got recorder
	unsubscribe := b.Subscribe(got.handle)
	unsubscribe()
	unsubscribe()

	require.NoError(t, a.Publish(Message{Type: TypeLogout}))
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 0, got.count())
}

func TestPublishAfterClose(t *testing.T) {
	hub := NewHub()
	a := hub.Open("c")
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	assert.ErrorIs(t, a.Publish(Message{Type: TypeLogout}), ErrClosed)

	f, err := OpenFileBus(t.TempDir(), "c", 0, nil)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	assert.ErrorIs(t, f.Publish(Message{Type: TypeLogout}), ErrClosed)
}

func TestClosedPeerDoesNotBlockPublisher(t *testing.T) {
	hub := NewHub()
	a, b := hub.Open("c"), hub.Open("c")
	defer a.Close()
	require.NoError(t, b.Close())

	done := make(chan struct{})
	go func() {
		for i := 0; i < inboxSize*2; i++ {
			_ = a.Publish(Message{Type: TypeLogout})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a closed peer")
	}
}

func TestFileBusIgnoresHistory(t *testing.T) {
	dir := t.TempDir()
	early, err := OpenFileBus(dir, "c", 10*time.Millisecond, nil)
	require.NoError(t, err)
	defer early.Close()
	require.NoError(t, early.Publish(Message{Type: TypeLogout}))

	late, err := OpenFileBus(dir, "c", 10*time.Millisecond, nil)
	require.NoError(t, err)
	defer late.Close()

	var got recorder
	late.Subscribe(got.handle)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 0, got.count())
}
