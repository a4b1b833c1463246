/*
Package streamer provides named event streams that fan out writes from
callers to subscribed sessions, layered over an RPC boundary and a push
boundary.

A stream called "notifications" exposes two endpoints on the registrars it
is created with:

  - a method "stream-notifications" that writes an event
  - a publication "stream-notifications" that subscribes a session to one event name

Every subscribed session receives one "changed" record per accepted write,
carrying the event name and its arguments.

# Basic Usage

	srv, _ := ws.New()
	central, _ := streamer.NewCentral(
		streamer.WithMethods(srv),
		streamer.WithPublications(srv),
	)

	stream := central.Stream("notifications")
	stream.AllowWrite(streamer.WritePolicyFunc(func(ctx context.Context, c streamer.Caller, event string, args ...any) bool {
		return c.UserID != ""
	}))
	stream.Transform(transforms.ServerTimestamp(transforms.DefaultTimestampField, time.Now))

	http.Handle("/websocket", srv)

# Architecture

1. Central (central.go)
  - Process scoped registry of streams by name
  - Creating a stream twice returns the first instance and logs a warning
  - Wires each new stream into the method and publication registrars

2. Policies (policy.go)
  - ReadPolicy decides who may subscribe to an event name
  - WritePolicy decides who may write an event
  - Both default to PermitAll and only a true result admits

3. Transforms (transform.go, scope.go)
  - Wildcard transforms run on every event, in registration order
  - Event transforms run after them for one event name
  - Each transform sees a WriteScope with the caller and the original arguments

4. Streams (stream.go)
  - Write runs the write policy, the transforms, local listeners and then the broadcast
  - Rejected writes are silently dropped; transform errors are returned to the caller
  - Broadcast skips subscribers whose push fails and keeps going

# Transports

The core only depends on the Session, MethodRegistrar and PublicationRegistrar
interfaces. The transport/ws package serves them over websockets and
transport/natsrpc over NATS subjects. A Central can be wired to both at once.

# Thread Safety

All types in this package are safe for concurrent use. Subscriptions are
removed exactly once, whether the session stops or the handle is
unsubscribed directly.
*/
package streamer
