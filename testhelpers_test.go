package streamer

import (
	"errors"
	"io"
	"log/slog"
	"sync"
)

var errGone = errors.New("connection gone")

type push struct {
	collection string
	id         string
	fields     map[string]any
}

// fakeSession records everything the stream does to a subscriber session.
type fakeSession struct {
	mu       sync.Mutex
	caller   Caller
	stopped  bool
	ready    bool
	stops    int
	onStop   []func()
	added    []push
	changed  []push
	pushErr  error
	onChange func(push)
}

func newFakeSession(userID string) *fakeSession {
	return &fakeSession{caller: Caller{UserID: userID, Connection: ConnectionInfo{ID: "conn-" + userID}}}
}

func (f *fakeSession) Caller() Caller { return f.caller }

func (f *fakeSession) Stop() {
	f.mu.Lock()
	f.stops++
	if f.stopped {
		f.mu.Unlock()
		return
	}
	f.stopped = true
	callbacks := f.onStop
	f.onStop = nil
	f.mu.Unlock()

	for _, cb := range callbacks {
		cb()
	}
}

func (f *fakeSession) OnStop(fn func()) {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		fn()
		return
	}
	f.onStop = append(f.onStop, fn)
	f.mu.Unlock()
}

func (f *fakeSession) Ready() {
	f.mu.Lock()
	f.ready = true
	f.mu.Unlock()
}

func (f *fakeSession) Added(collection, id string, fields map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, push{collection: collection, id: id, fields: fields})
	return nil
}

func (f *fakeSession) Changed(collection, id string, fields map[string]any) error {
	f.mu.Lock()
	if f.pushErr != nil {
		err := f.pushErr
		f.mu.Unlock()
		return err
	}
	p := push{collection: collection, id: id, fields: fields}
	f.changed = append(f.changed, p)
	hook := f.onChange
	f.mu.Unlock()

	if hook != nil {
		hook(p)
	}
	return nil
}

// disconnectTwice fires the stop callbacks twice, the way a transport racing
// a client side unsubscribe against a dropped connection might.
func (f *fakeSession) disconnectTwice() {
	f.mu.Lock()
	callbacks := append([]func(){}, f.onStop...)
	f.mu.Unlock()

	f.Stop()
	for _, cb := range callbacks {
		cb()
	}
}

func (f *fakeSession) pushes() []push {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]push, len(f.changed))
	copy(out, f.changed)
	return out
}

func (f *fakeSession) isStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

func (f *fakeSession) isReady() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

type fakeRegistrar struct {
	mu           sync.Mutex
	methods      map[string]MethodHandler
	publications map[string]PublishHandler
}

func newFakeRegistrar() *fakeRegistrar {
	return &fakeRegistrar{
		methods:      make(map[string]MethodHandler),
		publications: make(map[string]PublishHandler),
	}
}

func (r *fakeRegistrar) Method(name string, h MethodHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.methods[name]; ok {
		return errors.New("method already registered: " + name)
	}
	r.methods[name] = h
	return nil
}

func (r *fakeRegistrar) Publish(name string, h PublishHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.publications[name]; ok {
		return errors.New("publication already registered: " + name)
	}
	r.publications[name] = h
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCentral(t interface{ Fatalf(string, ...any) }) *Central {
	c, err := NewCentral(WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("new central: %v", err)
	}
	return c
}
