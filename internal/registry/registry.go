// Package registry provides a concurrency safe name to value table.
//
// Entries are created at most once per name: GetOrAdd returns the value that
// won the race and reports whether it was already present, so callers can run
// one-time side effects only for the value they actually created.
package registry

import (
	"slices"

	"github.com/alphadose/haxmap"
)

type Registry[T any] interface {
	Get(name string) (T, bool)
	Add(name string, value T) bool
	GetOrAdd(name string, value func() T) (T, bool)
	Del(name string)
	Names() []string
	Len() int
}

type registry[T any] struct {
	values *haxmap.Map[string, T]
}

func New[T any]() Registry[T] {
	return &registry[T]{
		values: haxmap.New[string, T](),
	}
}

func (r *registry[T]) Get(name string) (T, bool) {
	return r.values.Get(name)
}

// Add stores value under name unless the name is taken.
// It reports whether the value was stored.
func (r *registry[T]) Add(name string, value T) bool {
	_, loaded := r.values.GetOrSet(name, value)
	return !loaded
}

// GetOrAdd returns the value stored under name, computing and storing it when
// absent. The boolean is true when the value already existed.
func (r *registry[T]) GetOrAdd(name string, valueFn func() T) (T, bool) {
	return r.values.GetOrCompute(name, valueFn)
}

func (r *registry[T]) Del(name string) {
	r.values.Del(name)
}

// Names returns the registered names in lexical order.
func (r *registry[T]) Names() []string {
	names := make([]string, 0, r.values.Len())
	r.values.ForEach(func(name string, _ T) bool {
		names = append(names, name)
		return true
	})
	slices.Sort(names)
	return names
}

func (r *registry[T]) Len() int {
	return int(r.values.Len())
}
