// Package ws serves stream methods and publications over websocket
// connections.
//
// The protocol is a small subset of DDP: clients open subscriptions with
// "sub" frames, call methods with "method" frames and receive "added" and
// "changed" records for their subscriptions. Every connection gets its own
// writer goroutine fed by a bounded queue; when the queue is full pushes are
// dropped instead of blocking the broadcaster.
//
// Design decisions:
//   - One read loop per connection; method calls are served in order unless the
//     handler calls Invocation.Unblock
//   - Subscriptions are independent sessions that stop on unsub, on server side
//     Stop, or when the connection goes away
//   - Identity resolution is delegated to an IdentityFunc option
package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/casualjim/streamer"
	"github.com/casualjim/streamer/internal/registry"
	"github.com/casualjim/streamer/pkg/slogx"
	"github.com/fogfish/opts"
	"github.com/gorilla/websocket"
)

var (
	ErrDuplicateName    = errors.New("ws: name already registered")
	ErrSlowConsumer     = errors.New("ws: send queue is full")
	ErrConnectionClosed = errors.New("ws: connection closed")
	ErrSessionStopped   = errors.New("ws: session stopped")
)

const (
	defaultSendBuffer   = 64
	defaultWriteTimeout = 10 * time.Second
	defaultReadLimit    = 1 << 20
)

// IdentityFunc resolves the user id of an incoming connection. An empty
// string means anonymous.
type IdentityFunc func(r *http.Request) string

var (
	_ streamer.MethodRegistrar      = (*Server)(nil)
	_ streamer.PublicationRegistrar = (*Server)(nil)
	_ http.Handler                  = (*Server)(nil)
)

// Server is an http.Handler that upgrades requests to websocket connections
// and dispatches their frames to registered methods and publications.
type Server struct {
	logger       *slog.Logger
	identity     IdentityFunc
	sendBuffer   int
	writeTimeout time.Duration
	readLimit    int64
	upgrader     websocket.Upgrader

	methods      registry.Registry[streamer.MethodHandler]
	publications registry.Registry[streamer.PublishHandler]
	conns        registry.Registry[*conn]
}

var (
	WithLogger       = opts.ForName[Server, *slog.Logger]("logger")
	WithIdentity     = opts.ForName[Server, IdentityFunc]("identity")
	WithSendBuffer   = opts.ForName[Server, int]("sendBuffer")
	WithWriteTimeout = opts.ForName[Server, time.Duration]("writeTimeout")
	WithReadLimit    = opts.ForName[Server, int64]("readLimit")
)

// WithCheckOrigin sets the origin check of the websocket upgrader.
func WithCheckOrigin(fn func(r *http.Request) bool) opts.Option[Server] {
	return opts.Type[Server](func(s *Server) error {
		s.upgrader.CheckOrigin = fn
		return nil
	})
}

// WithAllowAnyOrigin accepts upgrades from every origin.
func WithAllowAnyOrigin() opts.Option[Server] {
	return WithCheckOrigin(func(*http.Request) bool { return true })
}

// New creates a Server.
func New(options ...opts.Option[Server]) (*Server, error) {
	s := &Server{
		sendBuffer:   defaultSendBuffer,
		writeTimeout: defaultWriteTimeout,
		readLimit:    defaultReadLimit,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		methods:      registry.New[streamer.MethodHandler](),
		publications: registry.New[streamer.PublishHandler](),
		conns:        registry.New[*conn](),
	}
	if err := opts.Apply(s, options); err != nil {
		return nil, err
	}
	if s.sendBuffer <= 0 {
		return nil, fmt.Errorf("ws: send buffer must be positive, got %d", s.sendBuffer)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With(slogx.LoggerName("ws"))
	if s.identity == nil {
		s.identity = func(*http.Request) string { return "" }
	}
	return s, nil
}

// Method registers a method handler. Names can be registered once.
func (s *Server) Method(name string, handler streamer.MethodHandler) error {
	if handler == nil {
		return fmt.Errorf("ws: method %q: handler is required", name)
	}
	if !s.methods.Add(name, handler) {
		return fmt.Errorf("%w: method %q", ErrDuplicateName, name)
	}
	return nil
}

// Publish registers a publication handler. Names can be registered once.
func (s *Server) Publish(name string, handler streamer.PublishHandler) error {
	if handler == nil {
		return fmt.Errorf("ws: publication %q: handler is required", name)
	}
	if !s.publications.Add(name, handler) {
		return fmt.Errorf("%w: publication %q", ErrDuplicateName, name)
	}
	return nil
}

// Connections returns the number of open connections.
func (s *Server) Connections() int {
	return s.conns.Len()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.DebugContext(r.Context(), "websocket upgrade failed", slogx.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := newConn(s, wsConn, streamer.Caller{
		UserID: s.identity(r),
	}, r.RemoteAddr)
	s.conns.Add(c.id, c)
	defer s.conns.Del(c.id)

	c.serve(ctx)
}

// Close drops every open connection. Sessions of the dropped connections
// stop and their subscribers are removed.
func (s *Server) Close() error {
	for _, id := range s.conns.Names() {
		if c, ok := s.conns.Get(id); ok {
			c.close()
		}
	}
	return nil
}
