// Package dedupe tracks recently seen envelope keys.
package dedupe

import (
	"container/list"
	"sync"
)

// DefaultCapacity is the number of keys retained before eviction.
const DefaultCapacity = 1000

// Set is a bounded, insertion-ordered set of keys. When an insert pushes it
// past capacity the oldest half is dropped in one sweep.
type Set struct {
	mu       sync.Mutex
	seen     map[string]*list.Element
	order    *list.List // oldest at front
	capacity int
}

// New creates a set holding up to capacity keys. Non-positive capacity falls
// back to DefaultCapacity.
func New(capacity int) *Set {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Set{
		seen:     make(map[string]*list.Element),
		order:    list.New(),
		capacity: capacity,
	}
}

// CheckAndMark returns true if key was already present. Otherwise it records
// key and returns false. Empty keys are never considered duplicates.
func (s *Set) CheckAndMark(key string) bool {
	if key == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[key]; ok {
		return true
	}
	s.seen[key] = s.order.PushBack(key)
	if len(s.seen) > s.capacity {
		s.evictOldestHalf()
	}
	return false
}

// Contains reports whether key is currently retained.
func (s *Set) Contains(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[key]
	return ok
}

// Len returns the number of retained keys.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// Reset forgets every key.
func (s *Set) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = make(map[string]*list.Element)
	s.order.Init()
}

// evictOldestHalf must be called with mu held.
func (s *Set) evictOldestHalf() {
	n := s.capacity / 2
	if n == 0 {
		n = 1
	}
	for i := 0; i < n; i++ {
		front := s.order.Front()
		if front == nil {
			return
		}
		key, _ := front.Value.(string)
		s.order.Remove(front)
		delete(s.seen, key)
	}
}
