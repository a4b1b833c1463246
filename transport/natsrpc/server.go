// Package natsrpc serves stream methods and publications over NATS.
//
// Methods are request/reply endpoints on "<prefix>.method.<name>". A
// subscription is opened with a request on "<prefix>.sub.<name>" that names a
// deliver subject; every record pushed to the subscription is published there.
// Publishing anything to "<prefix>.unsub.<id>" stops the subscription.
//
// Subscribers that vanish without unsubscribing are found by a heartbeat: the
// server periodically sends a ping request to every deliver subject and stops
// the subscriptions whose subject has no responders left.
package natsrpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/casualjim/streamer"
	"github.com/casualjim/streamer/internal/registry"
	"github.com/casualjim/streamer/pkg/slogx"
	"github.com/fogfish/opts"
	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"
)

var (
	ErrDuplicateName  = errors.New("natsrpc: name already registered")
	ErrSessionStopped = errors.New("natsrpc: session stopped")
	ErrServerClosed   = errors.New("natsrpc: server closed")
)

const (
	DefaultPrefix           = "streamer"
	DefaultQueue            = "streamer"
	DefaultHeartbeat        = 30 * time.Second
	DefaultHeartbeatTimeout = 2 * time.Second

	heartbeatConcurrency = 16
)

var (
	_ streamer.MethodRegistrar      = (*Server)(nil)
	_ streamer.PublicationRegistrar = (*Server)(nil)
)

// Server registers methods and publications as NATS subscriptions.
type Server struct {
	nc               *nats.Conn
	logger           *slog.Logger
	prefix           string
	queue            string
	heartbeat        time.Duration
	heartbeatTimeout time.Duration

	mu       sync.Mutex
	closed   bool
	stop     chan struct{}
	stopped  chan struct{}
	subs     []*nats.Subscription
	names    registry.Registry[struct{}]
	sessions registry.Registry[*session]
}

var (
	WithLogger = opts.ForName[Server, *slog.Logger]("logger")
	WithPrefix = opts.ForName[Server, string]("prefix")
	WithQueue  = opts.ForName[Server, string]("queue")

	// WithHeartbeat sets how often subscribers are checked. Zero disables the check.
	WithHeartbeat        = opts.ForName[Server, time.Duration]("heartbeat")
	WithHeartbeatTimeout = opts.ForName[Server, time.Duration]("heartbeatTimeout")
)

// New creates a Server on an established connection and starts listening
// for unsubscribe requests.
func New(nc *nats.Conn, options ...opts.Option[Server]) (*Server, error) {
	if nc == nil {
		return nil, fmt.Errorf("natsrpc: connection is required")
	}
	s := &Server{
		nc:               nc,
		prefix:           DefaultPrefix,
		queue:            DefaultQueue,
		heartbeat:        DefaultHeartbeat,
		heartbeatTimeout: DefaultHeartbeatTimeout,
		stop:             make(chan struct{}),
		stopped:          make(chan struct{}),
		names:            registry.New[struct{}](),
		sessions:         registry.New[*session](),
	}
	if err := opts.Apply(s, options); err != nil {
		return nil, err
	}
	if s.prefix == "" {
		return nil, fmt.Errorf("natsrpc: prefix is required")
	}
	if s.heartbeat < 0 || s.heartbeatTimeout <= 0 {
		return nil, fmt.Errorf("natsrpc: invalid heartbeat %s with timeout %s", s.heartbeat, s.heartbeatTimeout)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With(slogx.LoggerName("natsrpc"))

	unsub, err := nc.Subscribe(s.UnsubSubject("*"), s.serveUnsub)
	if err != nil {
		return nil, fmt.Errorf("natsrpc: failed to subscribe to unsub requests: %w", err)
	}
	s.subs = append(s.subs, unsub)

	if s.heartbeat > 0 {
		go s.monitor()
	} else {
		close(s.stopped)
	}
	return s, nil
}

func (s *Server) monitor() {
	defer close(s.stopped)

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.checkSubscribers()
		}
	}
}

// checkSubscribers pings every open subscription and stops the ones whose
// deliver subject has no responders. A ping that times out counts as alive.
func (s *Server) checkSubscribers() {
	var g errgroup.Group
	g.SetLimit(heartbeatConcurrency)
	for _, id := range s.sessions.Names() {
		sess, ok := s.sessions.Get(id)
		if !ok {
			continue
		}
		g.Go(func() error {
			_, err := s.nc.Request(sess.deliver, heartbeatFrame(sess.id), s.heartbeatTimeout)
			if errors.Is(err, nats.ErrNoResponders) {
				s.logger.Info("subscriber is gone", slogx.Subscriber(sess.id), slog.String("publication", sess.name))
				sess.Stop()
			}
			return nil
		})
	}
	_ = g.Wait()
}

// MethodSubject is the subject a method is served on.
func (s *Server) MethodSubject(name string) string {
	return s.prefix + ".method." + name
}

// PublicationSubject is the subject subscription requests for a publication are sent to.
func (s *Server) PublicationSubject(name string) string {
	return s.prefix + ".sub." + name
}

// UnsubSubject is the subject that stops the subscription with id.
func (s *Server) UnsubSubject(id string) string {
	return s.prefix + ".unsub." + id
}

func (s *Server) listen(kind, name, subject string, cb nats.MsgHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrServerClosed
	}
	if !s.names.Add(kind+":"+name, struct{}{}) {
		return fmt.Errorf("%w: %s %q", ErrDuplicateName, kind, name)
	}
	sub, err := s.nc.QueueSubscribe(subject, s.queue, cb)
	if err != nil {
		s.names.Del(kind + ":" + name)
		return fmt.Errorf("natsrpc: failed to subscribe to %s: %w", subject, err)
	}
	s.subs = append(s.subs, sub)
	return nil
}

// Method registers a method handler. Calls on one method are served in the
// order they arrive.
func (s *Server) Method(name string, handler streamer.MethodHandler) error {
	if handler == nil {
		return fmt.Errorf("natsrpc: method %q: handler is required", name)
	}
	return s.listen("method", name, s.MethodSubject(name), func(msg *nats.Msg) {
		s.serveMethod(name, handler, msg)
	})
}

// Publish registers a publication handler.
func (s *Server) Publish(name string, handler streamer.PublishHandler) error {
	if handler == nil {
		return fmt.Errorf("natsrpc: publication %q: handler is required", name)
	}
	return s.listen("publication", name, s.PublicationSubject(name), func(msg *nats.Msg) {
		s.servePublication(name, handler, msg)
	})
}

func (s *Server) respond(msg *nats.Msg, data []byte) {
	if msg.Reply == "" {
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Error("failed to respond", slogx.Error(err), slog.String("subject", msg.Subject))
	}
}

func (s *Server) serveMethod(name string, handler streamer.MethodHandler, msg *nats.Msg) {
	req, err := decodeRequest(msg.Data)
	if err != nil {
		s.respond(msg, errorReply("method-failed", err))
		return
	}

	inv := &streamer.Invocation{
		Caller: streamer.Caller{
			UserID:     req.UserID,
			Connection: streamer.ConnectionInfo{ID: req.ConnectionID},
		},
		Unblock: func() {},
	}
	result, err := handler(context.Background(), inv, req.Params...)
	if err != nil {
		s.logger.Debug("method failed", slog.String("method", name), slogx.Error(err))
		s.respond(msg, errorReply("method-failed", err))
		return
	}
	s.respond(msg, resultReply(result))
}

func (s *Server) servePublication(name string, handler streamer.PublishHandler, msg *nats.Msg) {
	req, err := decodeRequest(msg.Data)
	if err != nil {
		s.respond(msg, errorReply("subscription-failed", err))
		return
	}
	if req.ID == "" || req.Deliver == "" {
		s.respond(msg, errorReply("subscription-failed", fmt.Errorf("subscription requires id and deliver")))
		return
	}
	if strings.ContainsAny(req.ID, ".*> ") {
		s.respond(msg, errorReply("subscription-failed", fmt.Errorf("invalid subscription id %q", req.ID)))
		return
	}

	sess := newSession(s, req, name)
	if !s.sessions.Add(req.ID, sess) {
		s.respond(msg, errorReply("subscription-failed", fmt.Errorf("subscription id %q already in use", req.ID)))
		return
	}

	if err := handler(context.Background(), sess, req.Params...); err != nil {
		s.logger.Debug("publication failed", slog.String("publication", name), slogx.Error(err))
		sess.stopWithError(err)
		s.respond(msg, errorReply("subscription-failed", err))
		return
	}
	s.respond(msg, subscribedReply(req.ID))
}

func (s *Server) serveUnsub(msg *nats.Msg) {
	id := msg.Subject[strings.LastIndexByte(msg.Subject, '.')+1:]
	if sess, ok := s.sessions.Get(id); ok {
		sess.Stop()
	}
	s.respond(msg, []byte(`{}`))
}

// Sessions returns the number of open subscriptions.
func (s *Server) Sessions() int {
	return s.sessions.Len()
}

// Close unsubscribes every method and publication and stops all open
// subscriptions. The connection stays open.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	close(s.stop)
	<-s.stopped

	var errs []error
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, err)
		}
	}
	for _, id := range s.sessions.Names() {
		if sess, ok := s.sessions.Get(id); ok {
			sess.Stop()
		}
	}
	return errors.Join(errs...)
}
