package natsrpc

import (
	"sync"

	"github.com/casualjim/streamer"
	"github.com/casualjim/streamer/pkg/slogx"
)

var _ streamer.Session = (*session)(nil)

type session struct {
	server  *Server
	id      string
	name    string
	deliver string
	caller  streamer.Caller

	mu        sync.Mutex
	stopped   bool
	onStop    []func()
	readyOnce sync.Once
}

func newSession(s *Server, req request, name string) *session {
	connID := req.ConnectionID
	if connID == "" {
		connID = req.ID
	}
	return &session{
		server:  s,
		id:      req.ID,
		name:    name,
		deliver: req.Deliver,
		caller: streamer.Caller{
			UserID:     req.UserID,
			Connection: streamer.ConnectionInfo{ID: connID},
		},
	}
}

func (s *session) Caller() streamer.Caller {
	return s.caller
}

func (s *session) Stop() {
	s.stopWithError(nil)
}

func (s *session) stopWithError(cause error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	callbacks := s.onStop
	s.onStop = nil
	s.mu.Unlock()

	s.server.sessions.Del(s.id)
	s.publish(noSubFrame(s.id, cause))

	for _, cb := range callbacks {
		cb()
	}
}

func (s *session) OnStop(fn func()) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		fn()
		return
	}
	s.onStop = append(s.onStop, fn)
	s.mu.Unlock()
}

func (s *session) Ready() {
	s.readyOnce.Do(func() {
		if !s.isStopped() {
			s.publish(readyFrame(s.id))
		}
	})
}

func (s *session) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *session) Added(collection, id string, fields map[string]any) error {
	return s.push(MsgAdded, collection, id, fields)
}

func (s *session) Changed(collection, id string, fields map[string]any) error {
	return s.push(MsgChanged, collection, id, fields)
}

func (s *session) push(msg, collection, id string, fields map[string]any) error {
	if s.isStopped() {
		return ErrSessionStopped
	}
	frame, err := recordFrame(msg, s.id, collection, id, fields)
	if err != nil {
		return err
	}
	return s.server.nc.Publish(s.deliver, frame)
}

func (s *session) publish(frame []byte) {
	if err := s.server.nc.Publish(s.deliver, frame); err != nil {
		s.server.logger.Debug("failed to publish to subscriber", slogx.Error(err), slogx.Subscriber(s.id))
	}
}
