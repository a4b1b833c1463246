package ws

import (
	"sync"

	"github.com/casualjim/streamer"
)

var _ streamer.Session = (*session)(nil)

// session is one subscription opened by a "sub" frame.
type session struct {
	conn *conn
	id   string
	name string

	mu        sync.Mutex
	stopped   bool
	onStop    []func()
	readyOnce sync.Once
}

func newSession(c *conn, id, name string) *session {
	return &session{conn: c, id: id, name: name}
}

func (s *session) Caller() streamer.Caller {
	return s.conn.caller
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

	s.conn.forget(s.id)
	s.conn.reply(noSubFrame(s.id, cause))

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
			s.conn.reply(readyFrame(s.id))
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
	frame, err := recordFrame(msg, collection, id, fields)
	if err != nil {
		return err
	}
	return s.conn.enqueue(frame)
}
