package ws

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/casualjim/streamer"
	"github.com/casualjim/streamer/pkg/slogx"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
)

type conn struct {
	id     string
	server *Server
	ws     *websocket.Conn
	caller streamer.Caller
	logger *slog.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	closed   bool
	sessions map[string]*session
}

func newConn(s *Server, wsConn *websocket.Conn, caller streamer.Caller, remoteAddr string) *conn {
	id := uuid.Must(uuid.NewV7()).String()
	caller.Connection = streamer.ConnectionInfo{ID: id, RemoteAddr: remoteAddr}
	return &conn{
		id:       id,
		server:   s,
		ws:       wsConn,
		caller:   caller,
		logger:   s.logger.With(slog.String("conn", id)),
		send:     make(chan []byte, s.sendBuffer),
		done:     make(chan struct{}),
		sessions: make(map[string]*session),
	}
}

func (c *conn) serve(ctx context.Context) {
	defer c.close()

	c.ws.SetReadLimit(c.server.readLimit)
	go c.writeLoop()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.DebugContext(ctx, "connection read failed", slogx.Error(err))
			}
			return
		}
		c.handle(ctx, data)
	}
}

func (c *conn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.server.writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Debug("connection write failed", slogx.Error(err))
				c.close()
				return
			}
		}
	}
}

// enqueue hands a frame to the writer without blocking.
func (c *conn) enqueue(frame []byte) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}

	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	default:
		return ErrSlowConsumer
	}
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()

		c.mu.Lock()
		c.closed = true
		sessions := make([]*session, 0, len(c.sessions))
		for _, s := range c.sessions {
			sessions = append(sessions, s)
		}
		c.mu.Unlock()

		for _, s := range sessions {
			s.Stop()
		}
	})
}

func (c *conn) handle(ctx context.Context, data []byte) {
	if !gjson.ValidBytes(data) {
		c.reply(errorFrame("malformed message", nil))
		return
	}

	switch msg := gjson.GetBytes(data, "msg").String(); msg {
	case MsgConnect:
		c.reply(connectedFrame(c.id))
	case MsgPing:
		c.reply(pongFrame(gjson.GetBytes(data, "id").String()))
	case MsgSub:
		c.subscribe(ctx, data)
	case MsgUnsub:
		c.unsubscribe(gjson.GetBytes(data, "id").String())
	case MsgMethod:
		c.call(ctx, data)
	default:
		c.reply(errorFrame(fmt.Sprintf("unknown message %q", msg), data))
	}
}

// reply sends a protocol frame. Replies are dropped with a log line when the
// writer cannot keep up.
func (c *conn) reply(frame []byte) {
	if err := c.enqueue(frame); err != nil {
		c.logger.Debug("dropping reply", slogx.Error(err))
	}
}

func (c *conn) subscribe(ctx context.Context, data []byte) {
	id := gjson.GetBytes(data, "id").String()
	name := gjson.GetBytes(data, "name").String()
	if id == "" || name == "" {
		c.reply(errorFrame("sub requires id and name", data))
		return
	}

	params, err := decodeParams(data)
	if err != nil {
		c.reply(noSubFrame(id, err))
		return
	}

	handler, ok := c.server.publications.Get(name)
	if !ok {
		c.reply(noSubFrame(id, fmt.Errorf("publication %q not found", name)))
		return
	}

	// A session stored here before close is stopped by it, and the stream
	// drops its subscriber when OnStop runs on the stopped session.
	s := newSession(c, id, name)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.logger.DebugContext(ctx, "ignoring subscription on closed connection", slog.String("publication", name))
		return
	}
	if _, taken := c.sessions[id]; taken {
		c.mu.Unlock()
		c.reply(noSubFrame(id, fmt.Errorf("subscription id %q already in use", id)))
		return
	}
	c.sessions[id] = s
	c.mu.Unlock()

	if err := handler(ctx, s, params...); err != nil {
		c.logger.DebugContext(ctx, "publication failed", slog.String("publication", name), slogx.Error(err))
		s.stopWithError(err)
	}
}

func (c *conn) unsubscribe(id string) {
	c.mu.Lock()
	s, ok := c.sessions[id]
	c.mu.Unlock()
	if !ok {
		c.reply(noSubFrame(id, nil))
		return
	}
	s.Stop()
}

func (c *conn) forget(id string) {
	c.mu.Lock()
	delete(c.sessions, id)
	c.mu.Unlock()
}

// call runs a method and waits until it either returns or unblocks.
func (c *conn) call(ctx context.Context, data []byte) {
	id := gjson.GetBytes(data, "id").String()
	name := gjson.GetBytes(data, "method").String()
	if id == "" || name == "" {
		c.reply(errorFrame("method requires id and method", data))
		return
	}

	params, err := decodeParams(data)
	if err != nil {
		c.reply(resultFrame(id, nil, err))
		return
	}

	handler, ok := c.server.methods.Get(name)
	if !ok {
		c.reply(resultFrame(id, nil, fmt.Errorf("method %q not found", name)))
		return
	}

	unblocked := make(chan struct{})
	var once sync.Once
	unblock := func() { once.Do(func() { close(unblocked) }) }

	go func() {
		defer unblock()
		result, err := handler(ctx, &streamer.Invocation{Caller: c.caller, Unblock: unblock}, params...)
		if err != nil {
			c.logger.DebugContext(ctx, "method failed", slog.String("method", name), slogx.Error(err))
		}
		c.reply(resultFrame(id, result, err))
	}()

	select {
	case <-unblocked:
	case <-c.done:
	}
}
