package streamer

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/casualjim/streamer/internal/subscriptions"
	"github.com/casualjim/streamer/pkg/slogx"
	"github.com/google/uuid"
)

// SubscriptionPrefix is prepended to a stream name to form the name of its
// method and its publication.
const SubscriptionPrefix = "stream-"

// Stream is a named broker. Callers write events to it, subscribers receive
// the events they subscribed to, and in-process listeners see every accepted
// write. A Stream lives as long as the Central that created it.
type Stream struct {
	name           string
	retransmission bool
	logger         *slog.Logger

	mu          sync.RWMutex
	readPolicy  ReadPolicy
	writePolicy WritePolicy

	subscriptions *subscriptions.Set[*Subscriber]
	transforms    *pipeline
	local         *notifier
}

func newStream(name string, cfg StreamConfig, logger *slog.Logger) *Stream {
	return &Stream{
		name:           name,
		retransmission: cfg.retransmission,
		logger:         logger.With(slogx.Stream(name)),
		readPolicy:     PermitAll,
		writePolicy:    PermitAll,
		subscriptions:  subscriptions.New[*Subscriber](),
		transforms:     newPipeline(),
		local:          newNotifier(),
	}
}

// Name returns the name the stream was registered under.
func (s *Stream) Name() string {
	return s.name
}

// SubscriptionName is the name of both the write method and the publication
// of this stream.
func (s *Stream) SubscriptionName() string {
	return SubscriptionPrefix + s.name
}

// Retransmission reports whether writes are pushed to remote subscribers.
func (s *Stream) Retransmission() bool {
	return s.retransmission
}

// AllowRead replaces the read policy. A nil policy is ignored and the
// previous one stays in effect.
func (s *Stream) AllowRead(p ReadPolicy) {
	if !usableReadPolicy(p) {
		return
	}
	s.mu.Lock()
	s.readPolicy = p
	s.mu.Unlock()
}

// AllowWrite replaces the write policy. A nil policy is ignored and the
// previous one stays in effect.
func (s *Stream) AllowWrite(p WritePolicy) {
	if !usableWritePolicy(p) {
		return
	}
	s.mu.Lock()
	s.writePolicy = p
	s.mu.Unlock()
}

func (s *Stream) policies() (ReadPolicy, WritePolicy) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readPolicy, s.writePolicy
}

// Transform appends a transform to the pipeline. Registrations without a
// function are ignored.
func (s *Stream) Transform(reg Registration) {
	if !s.transforms.register(reg) {
		s.logger.Warn("ignoring transform without a function", slogx.Event(reg.EventName()))
	}
}

// Listen registers fn for accepted writes of eventName. The returned function
// removes the listener.
func (s *Stream) Listen(eventName string, fn ListenerFunc) func() {
	if fn == nil {
		return func() {}
	}
	return s.local.listen(eventName, fn)
}

// Subscribe registers session for eventName after the read policy admits it.
// A rejected session is stopped and never becomes a subscriber. When
// useCollection is set, one synthetic added record is sent before the
// subscription is marked ready.
func (s *Stream) Subscribe(ctx context.Context, session Session, eventName string, useCollection bool) (*Subscriber, bool) {
	readPolicy, _ := s.policies()
	if !readPolicy.AllowRead(ctx, session.Caller(), eventName) {
		s.logger.DebugContext(ctx, "subscription rejected", slogx.Event(eventName))
		session.Stop()
		return nil, false
	}

	sub := &Subscriber{
		id:        uuid.Must(uuid.NewV7()).String(),
		eventName: eventName,
		session:   session,
		stream:    s,
	}
	s.subscriptions.Add(sub.id, eventName, sub)
	session.OnStop(func() { s.Unsubscribe(sub) })

	if useCollection {
		if err := session.Added(s.SubscriptionName(), SyntheticID, map[string]any{"eventName": eventName}); err != nil {
			s.logger.DebugContext(ctx, "failed to send initial record", slogx.Event(eventName), slogx.Error(err))
		}
	}

	session.Ready()
	return sub, true
}

// Unsubscribe removes sub from the stream. Only the first call has an effect.
func (s *Stream) Unsubscribe(sub *Subscriber) {
	if sub == nil || sub.stream != s {
		return
	}
	sub.once.Do(func() {
		sub.closed.Store(true)
		s.subscriptions.Remove(sub.id, sub.eventName)
	})
}

// Write runs one write through the stream. A write rejected by the write
// policy returns nil without any effect. A failing transform aborts the write
// before anything is delivered and its error is returned.
func (s *Stream) Write(ctx context.Context, caller Caller, eventName string, args ...any) error {
	_, writePolicy := s.policies()
	if !writePolicy.AllowWrite(ctx, caller, eventName, args...) {
		s.logger.DebugContext(ctx, "write rejected", slogx.Event(eventName))
		return nil
	}

	scope := newWriteScope(s.name, eventName, caller, args)
	out, err := s.transforms.apply(scope, eventName, args)
	if err != nil {
		return fmt.Errorf("stream %q: %w", s.name, err)
	}

	s.notifyLocal(ctx, scope, eventName, out)

	if s.retransmission {
		s.Broadcast(eventName, out...)
	}
	return nil
}

func (s *Stream) notifyLocal(ctx context.Context, scope *WriteScope, eventName string, args []any) {
	s.local.notify(ctx, scope, eventName, args)
}

// Broadcast pushes eventName with args to every live subscriber of
// eventName, in subscription order, and returns how many pushes succeeded.
// Subscribers whose push fails are skipped.
func (s *Stream) Broadcast(eventName string, args ...any) int {
	fields := Payload{EventName: eventName, Args: args}.Fields()

	delivered := 0
	for _, sub := range s.subscriptions.Handles(eventName) {
		if sub.Closed() {
			continue
		}
		if err := sub.session.Changed(s.SubscriptionName(), SyntheticID, fields); err != nil {
			s.logger.Debug("skipping subscriber", slogx.Event(eventName), slogx.Subscriber(sub.id), slogx.Error(err))
			continue
		}
		delivered++
	}
	return delivered
}

// SubscriberCount returns the number of live subscribers of eventName.
func (s *Stream) SubscriberCount(eventName string) int {
	return s.subscriptions.Count(eventName)
}

// TotalSubscribers returns the number of live subscribers across all event names.
func (s *Stream) TotalSubscribers() int {
	return s.subscriptions.Len()
}

// Subscribers returns every live subscriber in subscription order.
func (s *Stream) Subscribers() []*Subscriber {
	return s.subscriptions.All()
}

// EventNames returns the sorted event names that have live subscribers.
func (s *Stream) EventNames() []string {
	names := s.subscriptions.EventNames()
	slices.Sort(names)
	return names
}

// Subscriber is one live subscription of a session to an event name.
type Subscriber struct {
	id        string
	eventName string
	session   Session
	stream    *Stream

	once   sync.Once
	closed atomic.Bool
}

func (s *Subscriber) ID() string {
	return s.id
}

func (s *Subscriber) EventName() string {
	return s.eventName
}

func (s *Subscriber) Session() Session {
	return s.session
}

// Closed reports whether the subscription has been removed.
func (s *Subscriber) Closed() bool {
	return s.closed.Load()
}

// Unsubscribe removes the subscription from its stream.
func (s *Subscriber) Unsubscribe() {
	s.stream.Unsubscribe(s)
}
