package streamer

import (
	"context"
)

// ConnectionInfo describes the network connection a call arrived on.
type ConnectionInfo struct {
	ID         string `json:"id"`
	RemoteAddr string `json:"remoteAddr,omitempty"`
}

// Caller identifies the party behind a write or subscribe request. Identity
// resolution happens in the transport; the core only reads these values.
type Caller struct {
	UserID     string         `json:"userId,omitempty"`
	Connection ConnectionInfo `json:"connection"`
}

// Session is a live subscription handed over by a publication transport.
//
// Stop terminates the subscription from the server side, OnStop registers a
// callback that fires once when the subscription ends for any reason, Ready
// acknowledges the subscription, and Added/Changed push records to the peer.
// Push methods must not block on the network. OnStop called on a session that
// has already stopped runs the callback right away.
type Session interface {
	Caller() Caller
	Stop()
	OnStop(func())
	Ready()
	Added(collection, id string, fields map[string]any) error
	Changed(collection, id string, fields map[string]any) error
}

// Invocation carries the transport level details of one method call.
type Invocation struct {
	Caller Caller
	// Unblock lets the transport run later calls from the same connection
	// before this one returns. Nil when the transport never serializes calls.
	Unblock func()
}

// MethodHandler serves one named remote method.
type MethodHandler func(ctx context.Context, inv *Invocation, params ...any) (any, error)

// PublishHandler serves one named publication for a freshly opened session.
type PublishHandler func(ctx context.Context, session Session, params ...any) error

// MethodRegistrar is implemented by RPC transports that dispatch named methods.
type MethodRegistrar interface {
	Method(name string, handler MethodHandler) error
}

// PublicationRegistrar is implemented by transports that open push sessions
// for named publications.
type PublicationRegistrar interface {
	Publish(name string, handler PublishHandler) error
}
