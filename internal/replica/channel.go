// Package replica pushes authority-owned values to observers.
//
// A Channel lives on the authority and is the only writer of its value. Every
// Publish bumps a version and is delivered to each Subscription in commit order.
// A Mirror lives on an observer and keeps the newest Update it has seen.
package replica

import "sync"

type Update[T any] struct {
	Version uint64 `json:"version"`
	Value   T      `json:"value"`
}

type Handler[T any] func(Update[T])

type Channel[T any] struct {
	// pub serializes Publish and Subscribe so no observer sees versions out of order.
	pub sync.Mutex

	mu      sync.Mutex
	version uint64
	value   T
	subs    map[*Subscription[T]]struct{}
}

func NewChannel[T any](initial T) *Channel[T] {
	return &Channel[T]{
		value: initial,
		subs:  make(map[*Subscription[T]]struct{}),
	}
}

// Publish commits v as the new value and delivers it to every subscriber.
// Handlers run on the caller's goroutine and must not publish on the same channel.
func (c *Channel[T]) Publish(v T) uint64 {
	c.pub.Lock()
	defer c.pub.Unlock()

	c.mu.Lock()
	c.version++
	c.value = v
	u := Update[T]{Version: c.version, Value: v}
	subs := make([]*Subscription[T], 0, len(c.subs))
	for s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.Unlock()

	for _, s := range subs {
		s.deliver(u)
	}
	return u.Version
}

func (c *Channel[T]) Current() Update[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Update[T]{Version: c.version, Value: c.value}
}

// Subscribe registers h and immediately hands it the current value.
func (c *Channel[T]) Subscribe(h Handler[T]) *Subscription[T] {
	c.pub.Lock()
	defer c.pub.Unlock()

	s := &Subscription[T]{channel: c, handler: h}
	c.mu.Lock()
	c.subs[s] = struct{}{}
	u := Update[T]{Version: c.version, Value: c.value}
	c.mu.Unlock()

	s.deliver(u)
	return s
}

func (c *Channel[T]) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// Subscription must be closed by its owner on teardown.
type Subscription[T any] struct {
	channel *Channel[T]
	handler Handler[T]

	mu     sync.Mutex
	closed bool
}

func (s *Subscription[T]) deliver(u Update[T]) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	s.handler(u)
}

// Close detaches the handler. Safe to call more than once and from inside a handler.
func (s *Subscription[T]) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.channel.mu.Lock()
	delete(s.channel.subs, s)
	s.channel.mu.Unlock()
}
