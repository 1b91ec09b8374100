package broadcast

import (
	"sync"
)

const inboxSize = 64

// Hub connects bus instances living in the same process, scoped by
// channel name.
type Hub struct {
	mu       sync.Mutex
	channels map[string]map[*Channel]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{channels: make(map[string]map[*Channel]struct{})}
}

// Open returns a new bus instance on the named channel.
func (h *Hub) Open(name string) *Channel {
	c := &Channel{
		hub:   h,
		name:  name,
		inbox: make(chan Message, inboxSize),
		done:  make(chan struct{}),
		idle:  make(chan struct{}),
	}

	h.mu.Lock()
	peers, ok := h.channels[name]
	if !ok {
		peers = make(map[*Channel]struct{})
		h.channels[name] = peers
	}
	peers[c] = struct{}{}
	h.mu.Unlock()

	go c.run()
	return c
}

func (h *Hub) peers(from *Channel) []*Channel {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []*Channel
	for c := range h.channels[from.name] {
		if c != from {
			out = append(out, c)
		}
	}
	return out
}

func (h *Hub) leave(c *Channel) {
	h.mu.Lock()
	defer h.mu.Unlock()

	peers := h.channels[c.name]
	delete(peers, c)
	if len(peers) == 0 {
		delete(h.channels, c.name)
	}
}

// Channel is one tab's instance of an in-process broadcast channel.
type Channel struct {
	hub  *Hub
	name string
	subs subscribers

	inbox chan Message
	done  chan struct{}
	idle  chan struct{}

	closeOnce sync.Once
}

// Publish delivers msg to every other open instance of the channel.
func (c *Channel) Publish(msg Message) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	for _, peer := range c.hub.peers(c) {
		select {
		case peer.inbox <- msg:
		case <-peer.done:
		}
	}
	return nil
}

// Subscribe registers h and returns a function that removes it.
func (c *Channel) Subscribe(h Handler) func() {
	return c.subs.add(h)
}

// Close leaves the channel and drops all subscribers. Messages still
// queued for this instance are discarded.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.hub.leave(c)
		close(c.done)
		<-c.idle
		c.subs.clear()
	})
	return nil
}

func (c *Channel) run() {
	defer close(c.idle)
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.inbox:
			c.subs.dispatch(msg)
		}
	}
}
