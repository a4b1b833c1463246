package ws

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/casualjim/streamer"
	"github.com/fogfish/opts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	central *streamer.Central
	server  *Server
	url     string
}

func newHarness(t *testing.T, options ...opts.Option[Server]) *harness {
	t.Helper()
	options = append([]opts.Option[Server]{WithLogger(discardLogger())}, options...)
	srv, err := New(options...)
	require.NoError(t, err)

	central, err := streamer.NewCentral(
		streamer.WithLogger(discardLogger()),
		streamer.WithMethods(srv),
		streamer.WithPublications(srv),
	)
	require.NoError(t, err)

	hs := httptest.NewServer(srv)
	t.Cleanup(func() {
		_ = srv.Close()
		hs.Close()
	})
	return &harness{
		central: central,
		server:  srv,
		url:     "ws" + strings.TrimPrefix(hs.URL, "http"),
	}
}

func (h *harness) dial(t *testing.T, header http.Header) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := Dial(ctx, h.url, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func next(t *testing.T, c *Client) Frame {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	f, err := c.Next()
	require.NoError(t, err)
	return f
}

func expect(t *testing.T, c *Client, msg string) Frame {
	t.Helper()
	f := next(t, c)
	require.Equal(t, msg, f.Msg, "unexpected frame %s", f.Raw)
	return f
}

func subscribe(t *testing.T, c *Client, name string, params ...any) string {
	t.Helper()
	id, err := c.Subscribe(name, params...)
	require.NoError(t, err)
	ready := expect(t, c, MsgReady)
	require.Equal(t, []string{id}, ready.Subs)
	return id
}

// quiet asserts that nothing is queued for c by round tripping a ping.
func quiet(t *testing.T, c *Client) {
	t.Helper()
	require.NoError(t, c.Ping())
	expect(t, c, MsgPong)
}

func TestServerEndToEnd(t *testing.T) {
	h := newHarness(t)
	h.central.Stream("notifications")

	c1 := h.dial(t, nil)
	c2 := h.dial(t, nil)
	writer := h.dial(t, nil)

	subscribe(t, c1, "stream-notifications", "ping")
	subscribe(t, c2, "stream-notifications", "pong")

	callID, err := writer.Call("stream-notifications", "ping", "hello")
	require.NoError(t, err)
	result := expect(t, writer, MsgResult)
	assert.Equal(t, callID, result.ID)
	assert.False(t, result.Error.Exists())

	changed := expect(t, c1, MsgChanged)
	assert.Equal(t, "stream-notifications", changed.Collection)
	assert.Equal(t, streamer.SyntheticID, changed.ID)
	payload, err := changed.Payload()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"eventName": "ping", "args": []any{"hello"}}, payload)

	quiet(t, c1)
	quiet(t, c2)
}

func TestServerSubscriptions(t *testing.T) {
	t.Run("collection compatibility sends an added record first", func(t *testing.T) {
		h := newHarness(t)
		h.central.Stream("s")
		c := h.dial(t, nil)

		_, err := c.Subscribe("stream-s", "ping", true)
		require.NoError(t, err)
		added := expect(t, c, MsgAdded)
		assert.Equal(t, "stream-s", added.Collection)
		assert.Equal(t, "ping", added.Fields.Get("eventName").String())
		expect(t, c, MsgReady)
	})

	t.Run("unsub stops delivery", func(t *testing.T) {
		h := newHarness(t)
		stream := h.central.Stream("s")
		c := h.dial(t, nil)

		id := subscribe(t, c, "stream-s", "ping")
		require.Equal(t, 1, stream.SubscriberCount("ping"))

		require.NoError(t, c.Unsubscribe(id))
		nosub := expect(t, c, MsgNoSub)
		assert.Equal(t, id, nosub.ID)
		assert.False(t, nosub.Error.Exists())
		assert.Zero(t, stream.SubscriberCount("ping"))

		require.NoError(t, stream.Write(context.Background(), streamer.Caller{}, "ping", 1))
		quiet(t, c)

		require.NoError(t, c.Unsubscribe(id))
		expect(t, c, MsgNoSub)
	})

	t.Run("disconnect removes subscribers", func(t *testing.T) {
		h := newHarness(t)
		stream := h.central.Stream("s")
		c := h.dial(t, nil)
		subscribe(t, c, "stream-s", "ping")
		subscribe(t, c, "stream-s", "pong")

		require.NoError(t, c.Close())
		require.Eventually(t, func() bool {
			return stream.SubscriberCount("ping") == 0 && stream.SubscriberCount("pong") == 0
		}, 2*time.Second, 10*time.Millisecond)
		require.Eventually(t, func() bool { return h.server.Connections() == 0 }, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("server close removes subscribers", func(t *testing.T) {
		h := newHarness(t)
		stream := h.central.Stream("s")
		c := h.dial(t, nil)
		subscribe(t, c, "stream-s", "ping")

		require.NoError(t, h.server.Close())
		require.Eventually(t, func() bool { return stream.SubscriberCount("ping") == 0 }, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("read policy rejection ends the subscription", func(t *testing.T) {
		h := newHarness(t)
		stream := h.central.Stream("s")
		stream.AllowRead(streamer.ReadPolicyFunc(func(_ context.Context, _ streamer.Caller, eventName string) bool {
			return eventName != "secret"
		}))
		c := h.dial(t, nil)

		id, err := c.Subscribe("stream-s", "secret")
		require.NoError(t, err)
		nosub := expect(t, c, MsgNoSub)
		assert.Equal(t, id, nosub.ID)
		assert.Zero(t, stream.SubscriberCount("secret"))
	})

	t.Run("invalid event name ends the subscription", func(t *testing.T) {
		h := newHarness(t)
		h.central.Stream("s")
		c := h.dial(t, nil)

		id, err := c.Subscribe("stream-s", 42)
		require.NoError(t, err)
		nosub := expect(t, c, MsgNoSub)
		assert.Equal(t, id, nosub.ID)
		quiet(t, c)
	})

	t.Run("unknown publication", func(t *testing.T) {
		h := newHarness(t)
		c := h.dial(t, nil)
		_, err := c.Subscribe("stream-missing", "ping")
		require.NoError(t, err)
		nosub := expect(t, c, MsgNoSub)
		assert.Contains(t, nosub.Error.Get("reason").String(), "not found")
	})

	t.Run("duplicate subscription ids are refused", func(t *testing.T) {
		h := newHarness(t)
		stream := h.central.Stream("s")
		c := h.dial(t, nil)

		frame := []byte(`{"msg":"sub","id":"dup","name":"stream-s","params":["ping"]}`)
		require.NoError(t, c.WriteRaw(frame))
		expect(t, c, MsgReady)
		require.NoError(t, c.WriteRaw(frame))
		nosub := expect(t, c, MsgNoSub)
		assert.Contains(t, nosub.Error.Get("reason").String(), "already in use")
		assert.Equal(t, 1, stream.SubscriberCount("ping"))
	})
}

func TestServerMethods(t *testing.T) {
	t.Run("unknown method", func(t *testing.T) {
		h := newHarness(t)
		c := h.dial(t, nil)
		_, err := c.Call("stream-missing", "ping")
		require.NoError(t, err)
		result := expect(t, c, MsgResult)
		assert.Equal(t, "method-failed", result.Error.Get("error").String())
	})

	t.Run("transform failures are reported to the caller", func(t *testing.T) {
		h := newHarness(t)
		stream := h.central.Stream("s")
		stream.Transform(streamer.ForEvent("ping", func(*streamer.WriteScope, ...any) (any, error) {
			return nil, errors.New("bad payload")
		}))

		sub := h.dial(t, nil)
		subscribe(t, sub, "stream-s", "ping")

		c := h.dial(t, nil)
		_, err := c.Call("stream-s", "ping", 1)
		require.NoError(t, err)
		result := expect(t, c, MsgResult)
		assert.Contains(t, result.Error.Get("reason").String(), "bad payload")
		quiet(t, sub)
	})

	t.Run("caller identity reaches the write policy", func(t *testing.T) {
		h := newHarness(t, WithIdentity(func(r *http.Request) string {
			return r.Header.Get("X-User")
		}))
		stream := h.central.Stream("s")
		stream.AllowWrite(streamer.WritePolicyFunc(func(_ context.Context, caller streamer.Caller, _ string, _ ...any) bool {
			return caller.UserID == "admin" && caller.Connection.ID != ""
		}))

		sub := h.dial(t, nil)
		subscribe(t, sub, "stream-s", "ping")

		guest := h.dial(t, http.Header{"X-User": []string{"guest"}})
		_, err := guest.Call("stream-s", "ping", "from guest")
		require.NoError(t, err)
		result := expect(t, guest, MsgResult)
		assert.False(t, result.Error.Exists(), "rejected writes look like successful ones")
		quiet(t, sub)

		admin := h.dial(t, http.Header{"X-User": []string{"admin"}})
		_, err = admin.Call("stream-s", "ping", "from admin")
		require.NoError(t, err)
		expect(t, admin, MsgResult)

		changed := expect(t, sub, MsgChanged)
		assert.Equal(t, "from admin", changed.Fields.Get("args.0").String())
	})

	t.Run("subscribers on the writing connection receive the push before the result", func(t *testing.T) {
		h := newHarness(t)
		h.central.Stream("s")
		c := h.dial(t, nil)
		subscribe(t, c, "stream-s", "ping")

		_, err := c.Call("stream-s", "ping", true)
		require.NoError(t, err)
		changed := expect(t, c, MsgChanged)
		assert.True(t, changed.Fields.Get("args.0").Bool())
		expect(t, c, MsgResult)
	})

	t.Run("method results are encoded", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.server.Method("echo", func(_ context.Context, _ *streamer.Invocation, params ...any) (any, error) {
			return params, nil
		}))
		c := h.dial(t, nil)
		_, err := c.Call("echo", "a", 1)
		require.NoError(t, err)
		result := expect(t, c, MsgResult)
		assert.JSONEq(t, `["a",1]`, result.Result.Raw)
	})
}

func TestServerProtocol(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t, nil)

	require.NoError(t, c.Connect())
	connected := expect(t, c, MsgConnected)
	assert.NotEmpty(t, connected.Session)

	require.NoError(t, c.WriteRaw([]byte(`{"msg":"ping","id":"p1"}`)))
	pong := expect(t, c, MsgPong)
	assert.Equal(t, "p1", pong.ID)

	require.NoError(t, c.WriteRaw([]byte(`not json`)))
	expect(t, c, MsgError)

	require.NoError(t, c.WriteRaw([]byte(`{"msg":"dance"}`)))
	unknown := expect(t, c, MsgError)
	assert.Contains(t, gjson.GetBytes(unknown.Raw, "reason").String(), "dance")
	assert.Equal(t, "dance", gjson.GetBytes(unknown.Raw, "offendingMessage.msg").String())
}

func TestServerRegistration(t *testing.T) {
	srv, err := New(WithLogger(discardLogger()))
	require.NoError(t, err)

	handler := func(context.Context, *streamer.Invocation, ...any) (any, error) { return nil, nil }
	require.NoError(t, srv.Method("m", handler))
	assert.ErrorIs(t, srv.Method("m", handler), ErrDuplicateName)
	assert.Error(t, srv.Method("nil", nil))

	pub := func(context.Context, streamer.Session, ...any) error { return nil }
	require.NoError(t, srv.Publish("p", pub))
	assert.ErrorIs(t, srv.Publish("p", pub), ErrDuplicateName)
	assert.Error(t, srv.Publish("nil", nil))

	_, err = New(WithSendBuffer(0))
	assert.Error(t, err)
}

func TestSessionQueue(t *testing.T) {
	srv, err := New(WithLogger(discardLogger()), WithSendBuffer(1))
	require.NoError(t, err)

	c := newConn(srv, nil, streamer.Caller{UserID: "u"}, "127.0.0.1:1")
	s := newSession(c, "s1", "stream-s")
	assert.Equal(t, "u", s.Caller().UserID)
	assert.NotEmpty(t, s.Caller().Connection.ID)

	require.NoError(t, s.Changed("stream-s", "id", map[string]any{"eventName": "e"}))
	assert.ErrorIs(t, s.Changed("stream-s", "id", nil), ErrSlowConsumer)

	close(c.done)
	assert.ErrorIs(t, c.enqueue([]byte(`{}`)), ErrConnectionClosed)
}

func TestSubscribeOnClosedConnection(t *testing.T) {
	openConn := func(t *testing.T, h *harness) *conn {
		t.Helper()
		h.dial(t, nil)
		var c *conn
		require.Eventually(t, func() bool {
			for _, id := range h.server.conns.Names() {
				c, _ = h.server.conns.Get(id)
			}
			return c != nil
		}, 2*time.Second, 10*time.Millisecond)
		return c
	}

	t.Run("sub frames after close are ignored", func(t *testing.T) {
		h := newHarness(t)
		stream := h.central.Stream("notifications")
		c := openConn(t, h)

		c.close()
		c.subscribe(context.Background(), []byte(`{"msg":"sub","id":"s1","name":"stream-notifications","params":["ping"]}`))

		assert.Zero(t, stream.SubscriberCount("ping"))
		c.mu.Lock()
		assert.Empty(t, c.sessions)
		c.mu.Unlock()
	})

	t.Run("close while the publication runs removes the subscriber", func(t *testing.T) {
		h := newHarness(t)
		stream := h.central.Stream("notifications")
		require.NoError(t, h.server.Publish("closing", func(ctx context.Context, sess streamer.Session, params ...any) error {
			sess.(*session).conn.close()
			return stream.ServePublication(ctx, sess, params...)
		}))
		c := openConn(t, h)

		c.subscribe(context.Background(), []byte(`{"msg":"sub","id":"s1","name":"closing","params":["ping"]}`))

		assert.Zero(t, stream.SubscriberCount("ping"))
		assert.Zero(t, stream.Broadcast("ping", "late"))
	})
}
