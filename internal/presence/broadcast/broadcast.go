// Package broadcast carries cross-tab messages between the live tabs of
// one profile.
//
// Each tab opens its own bus instance and subscribes for its lifetime. A
// published message reaches every other open instance on the same channel
// name; the publisher does not receive its own message. Delivery is
// eventual: a subscriber sees messages in publish order, some time after
// Publish returns.
package broadcast

import (
	"errors"
	"sync"
)

// TypeLogout asks sibling tabs to drop their cached session.
const TypeLogout = "logout"

// ErrClosed is returned when publishing on a closed bus.
var ErrClosed = errors.New("broadcast bus closed")

// Message is one cross-tab message.
type Message struct {
	Type string `json:"type"`
}

// Handler receives delivered messages. Handlers run on the bus's delivery
// goroutine and must not close the bus they are subscribed to.
type Handler func(Message)

// subscribers is the handler registry shared by every bus implementation.
type subscribers struct {
	mu       sync.RWMutex
	next     int
	handlers map[int]Handler
}

func (s *subscribers) add(h Handler) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handlers == nil {
		s.handlers = make(map[int]Handler)
	}
	id := s.next
	s.next++
	s.handlers[id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.handlers, id)
			s.mu.Unlock()
		})
	}
}

func (s *subscribers) dispatch(msg Message) {
	s.mu.RLock()
	handlers := make([]Handler, 0, len(s.handlers))
	for _, h := range s.handlers {
		handlers = append(handlers, h)
	}
	s.mu.RUnlock()

	for _, h := range handlers {
		h(msg)
	}
}

func (s *subscribers) clear() {
	s.mu.Lock()
	s.handlers = nil
	s.mu.Unlock()
}
