package streamer

import (
	"context"
)

// ReadPolicy decides whether a caller may subscribe to an event name.
type ReadPolicy interface {
	AllowRead(ctx context.Context, caller Caller, eventName string) bool
}

// WritePolicy decides whether a caller may write an event with the given arguments.
//
// Only a literal true admits the write. There is no notion of truthy values:
// a policy that cannot decide must return false.
type WritePolicy interface {
	AllowWrite(ctx context.Context, caller Caller, eventName string, args ...any) bool
}

// ReadPolicyFunc adapts a function to ReadPolicy.
type ReadPolicyFunc func(ctx context.Context, caller Caller, eventName string) bool

func (fn ReadPolicyFunc) AllowRead(ctx context.Context, caller Caller, eventName string) bool {
	return fn(ctx, caller, eventName)
}

// WritePolicyFunc adapts a function to WritePolicy.
type WritePolicyFunc func(ctx context.Context, caller Caller, eventName string, args ...any) bool

func (fn WritePolicyFunc) AllowWrite(ctx context.Context, caller Caller, eventName string, args ...any) bool {
	return fn(ctx, caller, eventName, args...)
}

// PermitAll is the default policy of every stream.
var PermitAll permitAll

type permitAll struct{}

func (permitAll) AllowRead(context.Context, Caller, string) bool { return true }

func (permitAll) AllowWrite(context.Context, Caller, string, ...any) bool { return true }

// usableReadPolicy reports whether p can be called. Nil interfaces and nil
// function values are not.
func usableReadPolicy(p ReadPolicy) bool {
	if p == nil {
		return false
	}
	if fn, ok := p.(ReadPolicyFunc); ok && fn == nil {
		return false
	}
	return true
}

func usableWritePolicy(p WritePolicy) bool {
	if p == nil {
		return false
	}
	if fn, ok := p.(WritePolicyFunc); ok && fn == nil {
		return false
	}
	return true
}
