package streamer

import (
	"slices"
	"sync/atomic"
)

// WriteScope is the per-write context handed to transforms and local
// listeners. A new scope is created for every accepted write and is never
// shared between writes.
type WriteScope struct {
	Caller    Caller
	Stream    string
	EventName string

	originalParams []any
	transformed    atomic.Bool
}

func newWriteScope(stream, eventName string, caller Caller, args []any) *WriteScope {
	return &WriteScope{
		Caller:         caller,
		Stream:         stream,
		EventName:      eventName,
		originalParams: slices.Clone(args),
	}
}

// UserID is a shortcut for s.Caller.UserID.
func (s *WriteScope) UserID() string {
	return s.Caller.UserID
}

// OriginalParams returns a copy of the arguments as the caller sent them,
// before any transform ran.
func (s *WriteScope) OriginalParams() []any {
	return slices.Clone(s.originalParams)
}

// Transformed reports whether at least one transform ran for this write.
func (s *WriteScope) Transformed() bool {
	return s.transformed.Load()
}

func (s *WriteScope) markTransformed() {
	s.transformed.Store(true)
}
