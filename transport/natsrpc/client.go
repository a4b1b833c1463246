package natsrpc

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/tidwall/gjson"
)

// Client calls methods and opens subscriptions served by a Server with the
// same prefix.
type Client struct {
	nc     *nats.Conn
	prefix string
	userID string
}

// NewClient creates a Client. userID is sent with every request and becomes
// the caller identity on the serving side.
func NewClient(nc *nats.Conn, prefix, userID string) *Client {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Client{nc: nc, prefix: prefix, userID: userID}
}

// Call invokes the method name and returns its raw result.
func (c *Client) Call(ctx context.Context, name string, params ...any) (gjson.Result, error) {
	data, err := encodeRequest(request{UserID: c.userID, Params: params})
	if err != nil {
		return gjson.Result{}, err
	}
	reply, err := c.nc.RequestWithContext(ctx, c.prefix+".method."+name, data)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("natsrpc: call %q: %w", name, err)
	}
	if err := replyError(reply.Data); err != nil {
		return gjson.Result{}, err
	}
	return gjson.GetBytes(reply.Data, "result"), nil
}

// Subscription receives the frames of one open subscription.
type Subscription struct {
	ID     string
	client *Client
	sub    *nats.Subscription
}

// Subscribe opens a subscription to the publication name. Frames are read
// with Next.
func (c *Client) Subscribe(ctx context.Context, name string, params ...any) (*Subscription, error) {
	deliver := c.nc.NewRespInbox()
	sub, err := c.nc.SubscribeSync(deliver)
	if err != nil {
		return nil, err
	}

	id := uuid.Must(uuid.NewV7()).String()
	data, err := encodeRequest(request{ID: id, UserID: c.userID, Deliver: deliver, Params: params})
	if err != nil {
		_ = sub.Unsubscribe()
		return nil, err
	}
	reply, err := c.nc.RequestWithContext(ctx, c.prefix+".sub."+name, data)
	if err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("natsrpc: subscribe %q: %w", name, err)
	}
	if err := replyError(reply.Data); err != nil {
		_ = sub.Unsubscribe()
		return nil, err
	}
	return &Subscription{ID: id, client: c, sub: sub}, nil
}

// Next waits for the next frame of the subscription. Heartbeats from the
// server are answered and skipped.
func (s *Subscription) Next(ctx context.Context) (gjson.Result, error) {
	for {
		msg, err := s.sub.NextMsgWithContext(ctx)
		if err != nil {
			return gjson.Result{}, err
		}
		frame := gjson.ParseBytes(msg.Data)
		if frame.Get("msg").String() == MsgPing {
			if msg.Reply != "" {
				_ = msg.Respond([]byte(`{}`))
			}
			continue
		}
		return frame, nil
	}
}

// Unsubscribe asks the server to stop the subscription and waits for the
// acknowledgement. Frames already in flight, including the final nosub, can
// still be read with Next.
func (s *Subscription) Unsubscribe(ctx context.Context) error {
	_, err := s.client.nc.RequestWithContext(ctx, s.client.prefix+".unsub."+s.ID, nil)
	return err
}

// Close releases the deliver subject.
func (s *Subscription) Close() error {
	return s.sub.Unsubscribe()
}
