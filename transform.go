package streamer

import (
	"fmt"
	"slices"
	"sync"
)

// WildcardFunc transforms the arguments of every event written to a stream.
// It receives the argument list as a single slice.
//
// Returning a []any replaces the argument list; any other value becomes the
// only argument.
type WildcardFunc func(scope *WriteScope, eventName string, args []any) (any, error)

// EventFunc transforms the arguments of one event name. It receives the
// arguments spread, as they were passed to Write.
//
// Returning a []any replaces the argument list; any other value becomes the
// only argument.
type EventFunc func(scope *WriteScope, args ...any) (any, error)

type targetKind uint8

const (
	targetWildcard targetKind = iota + 1
	targetNamed
)

// Registration binds a transform to either every event or one event name.
// Build one with ForAll or ForEvent.
type Registration struct {
	kind      targetKind
	eventName string
	wildcard  WildcardFunc
	named     EventFunc
}

// ForAll registers fn for every event of the stream. Wildcard transforms run
// before event specific ones.
func ForAll(fn WildcardFunc) Registration {
	return Registration{kind: targetWildcard, wildcard: fn}
}

// ForEvent registers fn for the event called eventName only.
func ForEvent(eventName string, fn EventFunc) Registration {
	return Registration{kind: targetNamed, eventName: eventName, named: fn}
}

// IsWildcard reports whether the registration targets every event.
func (r Registration) IsWildcard() bool {
	return r.kind == targetWildcard
}

// EventName returns the targeted event name, empty for wildcard registrations.
func (r Registration) EventName() string {
	return r.eventName
}

func (r Registration) valid() bool {
	switch r.kind {
	case targetWildcard:
		return r.wildcard != nil
	case targetNamed:
		return r.named != nil
	default:
		return false
	}
}

type pipeline struct {
	mu       sync.RWMutex
	wildcard []WildcardFunc
	named    map[string][]EventFunc
}

func newPipeline() *pipeline {
	return &pipeline{named: make(map[string][]EventFunc)}
}

func (p *pipeline) register(reg Registration) bool {
	if !reg.valid() {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if reg.IsWildcard() {
		p.wildcard = append(p.wildcard, reg.wildcard)
		return true
	}
	p.named[reg.eventName] = append(p.named[reg.eventName], reg.named)
	return true
}

func (p *pipeline) snapshot(eventName string) ([]WildcardFunc, []EventFunc) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.wildcard), slices.Clone(p.named[eventName])
}

// apply threads args through the wildcard transforms and then through the
// transforms registered for eventName, in registration order. The first error
// stops the pipeline.
func (p *pipeline) apply(scope *WriteScope, eventName string, args []any) ([]any, error) {
	wildcard, named := p.snapshot(eventName)

	for i, fn := range wildcard {
		out, err := fn(scope, eventName, args)
		scope.markTransformed()
		if err != nil {
			return nil, fmt.Errorf("wildcard transform #%d: %w", i, err)
		}
		args = asArgs(out)
	}

	for i, fn := range named {
		out, err := fn(scope, args...)
		scope.markTransformed()
		if err != nil {
			return nil, fmt.Errorf("transform #%d for %q: %w", i, eventName, err)
		}
		args = asArgs(out)
	}

	return args, nil
}

func asArgs(v any) []any {
	if args, ok := v.([]any); ok {
		return args
	}
	return []any{v}
}
