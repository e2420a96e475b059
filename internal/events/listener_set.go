// Package events provides small generic pub/sub primitives: CallbackEvent for
// synchronous fan-out to functions and ChannelEvent for non-blocking fan-out to
// channels. Both hand out deregistration funcs that are safe to call at any time,
// including from inside a listener while a notification is in progress.
package events

import (
	"sort"
	"sync"
)

// listenerSet stores listeners keyed by a monotonically increasing id so that
// notifications visit them in registration order.
type listenerSet[L any] struct {
	mu        sync.RWMutex
	listeners map[uint64]L
	nextID    uint64
}

func (s *listenerSet[L]) add(l L) func() {
	s.mu.Lock()
	if s.listeners == nil {
		s.listeners = make(map[uint64]L)
	}
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// snapshot copies the current listeners so they can be invoked without holding the lock.
func (s *listenerSet[L]) snapshot() []L {
	s.mu.RLock()
	ids := make([]uint64, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	result := make([]L, 0, len(ids))
	for _, id := range ids {
		result = append(result, s.listeners[id])
	}
	s.mu.RUnlock()
	return result
}

func (s *listenerSet[L]) count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.listeners)
}
