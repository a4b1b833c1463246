package streamer

import (
	"context"
	"slices"
	"sync"
)

// ListenerFunc receives writes inside the process, after transforms ran and
// before subscribers are pushed.
type ListenerFunc func(ctx context.Context, scope *WriteScope, args ...any)

type listener struct {
	id uint64
	fn ListenerFunc
}

// notifier dispatches accepted writes to in-process listeners keyed by exact
// event name.
type notifier struct {
	mu        sync.RWMutex
	nextID    uint64
	listeners map[string][]listener
}

func newNotifier() *notifier {
	return &notifier{listeners: make(map[string][]listener)}
}

func (n *notifier) listen(eventName string, fn ListenerFunc) func() {
	n.mu.Lock()
	n.nextID++
	id := n.nextID
	n.listeners[eventName] = append(n.listeners[eventName], listener{id: id, fn: fn})
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { n.remove(eventName, id) })
	}
}

func (n *notifier) remove(eventName string, id uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()

	ls := slices.DeleteFunc(slices.Clone(n.listeners[eventName]), func(l listener) bool {
		return l.id == id
	})
	if len(ls) == 0 {
		delete(n.listeners, eventName)
		return
	}
	n.listeners[eventName] = ls
}

func (n *notifier) notify(ctx context.Context, scope *WriteScope, eventName string, args []any) int {
	n.mu.RLock()
	ls := n.listeners[eventName]
	n.mu.RUnlock()

	for _, l := range ls {
		l.fn(ctx, scope, args...)
	}
	return len(ls)
}
