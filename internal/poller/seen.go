package poller

import (
	"container/list"
	"sync"
)

// seenSet is a bounded, thread-safe set that forgets its least recently
// used keys once full.
type seenSet struct {
	capacity int
	mu       sync.Mutex
	order    *list.List // front is most recently used
	items    map[string]*list.Element
}

func newSeenSet(capacity int) *seenSet {
	if capacity < 1 {
		capacity = 1
	}
	return &seenSet{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element, capacity),
	}
}

// contains reports whether key was added and refreshes its recency.
func (s *seenSet) contains(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.items[key]
	if ok {
		s.order.MoveToFront(el)
	}
	return ok
}

func (s *seenSet) add(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.items[key]; ok {
		s.order.MoveToFront(el)
		return
	}

	s.items[key] = s.order.PushFront(key)
	if s.order.Len() > s.capacity {
		oldest := s.order.Back()
		s.order.Remove(oldest)
		delete(s.items, oldest.Value.(string))
	}
}

func (s *seenSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}
