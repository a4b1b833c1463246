package natsrpc

import (
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Message types published to a subscription's deliver subject.
const (
	MsgReady   = "ready"
	MsgNoSub   = "nosub"
	MsgAdded   = "added"
	MsgChanged = "changed"
	MsgPing    = "ping"
)

// request is the decoded body of a method call or subscription request.
type request struct {
	ID           string
	UserID       string
	ConnectionID string
	Deliver      string
	Params       []any
}

func decodeRequest(data []byte) (request, error) {
	if len(data) == 0 {
		return request{}, nil
	}
	if !gjson.ValidBytes(data) {
		return request{}, fmt.Errorf("invalid json request")
	}
	root := gjson.ParseBytes(data)
	req := request{
		ID:           root.Get("id").String(),
		UserID:       root.Get("userId").String(),
		ConnectionID: root.Get("connectionId").String(),
		Deliver:      root.Get("deliver").String(),
	}
	params := root.Get("params")
	if !params.Exists() {
		return req, nil
	}
	if !params.IsArray() {
		return request{}, fmt.Errorf("field 'params' must be an array")
	}
	if err := json.Unmarshal([]byte(params.Raw), &req.Params); err != nil {
		return request{}, fmt.Errorf("invalid params: %w", err)
	}
	return req, nil
}

func encodeRequest(req request) ([]byte, error) {
	b := []byte(`{}`)
	var err error
	for _, kv := range [][2]string{
		{"id", req.ID},
		{"userId", req.UserID},
		{"connectionId", req.ConnectionID},
		{"deliver", req.Deliver},
	} {
		if kv[1] == "" {
			continue
		}
		if b, err = sjson.SetBytes(b, kv[0], kv[1]); err != nil {
			return nil, err
		}
	}
	params := req.Params
	if params == nil {
		params = []any{}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}
	return sjson.SetRawBytes(b, "params", raw)
}

func errorReply(kind string, cause error) []byte {
	b, _ := sjson.SetBytes([]byte(`{}`), "error.error", kind)
	b, _ = sjson.SetBytes(b, "error.reason", cause.Error())
	return b
}

func resultReply(result any) []byte {
	if result == nil {
		return []byte(`{}`)
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return errorReply("internal-error", fmt.Errorf("failed to marshal result: %w", err))
	}
	b, _ := sjson.SetRawBytes([]byte(`{}`), "result", raw)
	return b
}

func subscribedReply(id string) []byte {
	b, _ := sjson.SetBytes([]byte(`{}`), "id", id)
	return b
}

func readyFrame(id string) []byte {
	b, _ := sjson.SetBytes([]byte(`{}`), "msg", MsgReady)
	b, _ = sjson.SetBytes(b, "subs", []string{id})
	return b
}

func heartbeatFrame(id string) []byte {
	b, _ := sjson.SetBytes([]byte(`{}`), "msg", MsgPing)
	b, _ = sjson.SetBytes(b, "sub", id)
	return b
}

func noSubFrame(id string, cause error) []byte {
	b, _ := sjson.SetBytes([]byte(`{}`), "msg", MsgNoSub)
	b, _ = sjson.SetBytes(b, "id", id)
	if cause != nil {
		b, _ = sjson.SetBytes(b, "error.error", "subscription-failed")
		b, _ = sjson.SetBytes(b, "error.reason", cause.Error())
	}
	return b
}

func recordFrame(msg, sub, collection, id string, fields map[string]any) ([]byte, error) {
	b, _ := sjson.SetBytes([]byte(`{}`), "msg", msg)
	b, _ = sjson.SetBytes(b, "sub", sub)
	b, _ = sjson.SetBytes(b, "collection", collection)
	b, _ = sjson.SetBytes(b, "id", id)
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal fields: %w", err)
	}
	return sjson.SetRawBytes(b, "fields", raw)
}

// replyError extracts the error of a reply, if any.
func replyError(data []byte) error {
	e := gjson.GetBytes(data, "error")
	if !e.Exists() {
		return nil
	}
	return &RemoteError{Kind: e.Get("error").String(), Reason: e.Get("reason").String()}
}

// RemoteError is an error reported by the serving side of a call.
type RemoteError struct {
	Kind   string
	Reason string
}

func (e *RemoteError) Error() string {
	return e.Kind + ": " + e.Reason
}
