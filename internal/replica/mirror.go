package replica

import (
	"sync"
	"sync/atomic"
)

// Mirror is the observer-side copy of a Channel. Reads are lock-free; updates
// older than or equal to the cached version are discarded.
type Mirror[T any] struct {
	cur atomic.Pointer[Update[T]]

	// apply serializes Apply so watchers see versions in increasing order.
	apply sync.Mutex

	mu       sync.Mutex
	next     int
	watchers map[int]Handler[T]
}

func NewMirror[T any]() *Mirror[T] {
	return &Mirror[T]{watchers: make(map[int]Handler[T])}
}

// Apply installs u if it is newer than what the mirror holds and reports whether it did.
// Watchers run before Apply returns and must not call Apply themselves.
func (m *Mirror[T]) Apply(u Update[T]) bool {
	m.apply.Lock()
	defer m.apply.Unlock()

	old := m.cur.Load()
	if old != nil && u.Version <= old.Version {
		return false
	}
	next := u
	m.cur.Store(&next)

	m.mu.Lock()
	handlers := make([]Handler[T], 0, len(m.watchers))
	for _, h := range m.watchers {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()

	for _, h := range handlers {
		h(u)
	}
	return true
}

// Load returns the newest update and false if nothing has been received yet.
func (m *Mirror[T]) Load() (Update[T], bool) {
	u := m.cur.Load()
	if u == nil {
		return Update[T]{}, false
	}
	return *u, true
}

// Watch registers h for future updates. The returned cancel func must be called on teardown.
func (m *Mirror[T]) Watch(h Handler[T]) (cancel func()) {
	m.mu.Lock()
	id := m.next
	m.next++
	m.watchers[id] = h
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.watchers, id)
			m.mu.Unlock()
		})
	}
}
