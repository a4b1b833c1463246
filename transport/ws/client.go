package ws

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Client speaks the server side protocol of this package. It is used by the
// tail command and by tests; it is not safe for concurrent reads.
type Client struct {
	conn   *websocket.Conn
	wmu    sync.Mutex
	nextID atomic.Uint64
}

// Dial opens a client connection to url.
func Dial(ctx context.Context, url string, header http.Header) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

func (c *Client) id(prefix string) string {
	return prefix + strconv.FormatUint(c.nextID.Add(1), 10)
}

func (c *Client) write(frame []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

// Connect sends the connect handshake. The server answers with a connected frame.
func (c *Client) Connect() error {
	return c.write(base(MsgConnect))
}

// Subscribe opens a subscription to the publication name and returns its id.
func (c *Client) Subscribe(name string, params ...any) (string, error) {
	id := c.id("s")
	frame, err := subFrame(id, name, params)
	if err != nil {
		return "", err
	}
	return id, c.write(frame)
}

// Unsubscribe stops the subscription with id.
func (c *Client) Unsubscribe(id string) error {
	b := base(MsgUnsub)
	frame, err := setID(b, id)
	if err != nil {
		return err
	}
	return c.write(frame)
}

// Call invokes the method name and returns the id of the call. The result
// arrives as a result frame carrying the same id.
func (c *Client) Call(name string, params ...any) (string, error) {
	id := c.id("m")
	frame, err := methodFrame(id, name, params)
	if err != nil {
		return "", err
	}
	return id, c.write(frame)
}

// Ping sends a protocol ping.
func (c *Client) Ping() error {
	return c.write(base(MsgPing))
}

// WriteRaw sends data as a text frame without looking at it.
func (c *Client) WriteRaw(data []byte) error {
	return c.write(data)
}

// Next blocks until the next frame arrives.
func (c *Client) Next() (Frame, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return Frame{}, err
	}
	return ParseFrame(data)
}

// SetReadDeadline bounds how long Next waits.
func (c *Client) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// Close closes the connection.
func (c *Client) Close() error {
	c.wmu.Lock()
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.wmu.Unlock()
	return c.conn.Close()
}
