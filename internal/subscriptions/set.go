// Package subscriptions keeps the membership of live subscriber handles for a
// single stream.
//
// A Set holds two views over the same handles: every handle in insertion
// order, and one insertion ordered bucket per event name. Both views are
// mutated under the same lock so a reader never observes a handle in one view
// and not the other.
package subscriptions

import (
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

type entry[T any] struct {
	eventName string
	handle    T
}

// Set is a concurrency safe collection of handles indexed by id and by event name.
type Set[T any] struct {
	mu      sync.RWMutex
	all     *orderedmap.OrderedMap[string, entry[T]]
	byEvent map[string]*orderedmap.OrderedMap[string, T]
}

// New creates an empty Set.
func New[T any]() *Set[T] {
	return &Set[T]{
		all:     orderedmap.New[string, entry[T]](),
		byEvent: make(map[string]*orderedmap.OrderedMap[string, T]),
	}
}

// Add registers handle under id for eventName. Adding an id that is already
// present replaces nothing and returns false.
func (s *Set[T]) Add(id, eventName string, handle T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, present := s.all.Get(id); present {
		return false
	}
	s.all.Set(id, entry[T]{eventName: eventName, handle: handle})

	bucket, ok := s.byEvent[eventName]
	if !ok {
		bucket = orderedmap.New[string, T]()
		s.byEvent[eventName] = bucket
	}
	bucket.Set(id, handle)
	return true
}

// Remove drops the handle with id from both views. Removing an unknown id is a
// no-op; the return value reports whether anything was removed.
func (s *Set[T]) Remove(id, eventName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, removed := s.all.Delete(id)

	if bucket, ok := s.byEvent[eventName]; ok {
		if _, present := bucket.Delete(id); present {
			removed = true
		}
		if bucket.Len() == 0 {
			delete(s.byEvent, eventName)
		}
	}
	return removed
}

// Handles returns a snapshot of the handles registered for eventName in the
// order they were added. The result is never nil.
func (s *Set[T]) Handles(eventName string) []T {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bucket, ok := s.byEvent[eventName]
	if !ok {
		return []T{}
	}
	handles := make([]T, 0, bucket.Len())
	for pair := bucket.Oldest(); pair != nil; pair = pair.Next() {
		handles = append(handles, pair.Value)
	}
	return handles
}

// All returns a snapshot of every handle in insertion order.
func (s *Set[T]) All() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()

	handles := make([]T, 0, s.all.Len())
	for pair := s.all.Oldest(); pair != nil; pair = pair.Next() {
		handles = append(handles, pair.Value.handle)
	}
	return handles
}

// Len returns the number of handles in the set.
func (s *Set[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.all.Len()
}

// Count returns the number of handles registered for eventName.
func (s *Set[T]) Count(eventName string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if bucket, ok := s.byEvent[eventName]; ok {
		return bucket.Len()
	}
	return 0
}

// EventNames returns the event names that currently have at least one handle.
func (s *Set[T]) EventNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.byEvent))
	for name := range s.byEvent {
		names = append(names, name)
	}
	return names
}
