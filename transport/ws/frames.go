package ws

import (
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Message types of the wire protocol. Every frame is a JSON object with a
// "msg" field holding one of these values.
const (
	MsgConnect   = "connect"
	MsgConnected = "connected"
	MsgPing      = "ping"
	MsgPong      = "pong"
	MsgSub       = "sub"
	MsgUnsub     = "unsub"
	MsgReady     = "ready"
	MsgNoSub     = "nosub"
	MsgAdded     = "added"
	MsgChanged   = "changed"
	MsgMethod    = "method"
	MsgResult    = "result"
	MsgError     = "error"
)

func base(msg string) []byte {
	b, _ := sjson.SetBytes([]byte(`{}`), "msg", msg)
	return b
}

func connectedFrame(session string) []byte {
	b, _ := sjson.SetBytes(base(MsgConnected), "session", session)
	return b
}

func pongFrame(id string) []byte {
	b := base(MsgPong)
	if id != "" {
		b, _ = sjson.SetBytes(b, "id", id)
	}
	return b
}

func readyFrame(id string) []byte {
	b, _ := sjson.SetBytes(base(MsgReady), "subs", []string{id})
	return b
}

func noSubFrame(id string, cause error) []byte {
	b, _ := sjson.SetBytes(base(MsgNoSub), "id", id)
	if cause != nil {
		b, _ = sjson.SetBytes(b, "error.error", "subscription-failed")
		b, _ = sjson.SetBytes(b, "error.reason", cause.Error())
	}
	return b
}

func errorFrame(reason string, offending []byte) []byte {
	b, _ := sjson.SetBytes(base(MsgError), "reason", reason)
	if len(offending) > 0 && gjson.ValidBytes(offending) {
		b, _ = sjson.SetRawBytes(b, "offendingMessage", offending)
	}
	return b
}

func recordFrame(msg, collection, id string, fields map[string]any) ([]byte, error) {
	b, err := sjson.SetBytes(base(msg), "collection", collection)
	if err != nil {
		return nil, err
	}
	if b, err = sjson.SetBytes(b, "id", id); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal fields: %w", err)
	}
	return sjson.SetRawBytes(b, "fields", raw)
}

func resultFrame(id string, result any, callErr error) []byte {
	b, _ := sjson.SetBytes(base(MsgResult), "id", id)
	if callErr != nil {
		b, _ = sjson.SetBytes(b, "error.error", "method-failed")
		b, _ = sjson.SetBytes(b, "error.reason", callErr.Error())
		return b
	}
	if result == nil {
		return b
	}
	raw, err := json.Marshal(result)
	if err != nil {
		b, _ = sjson.SetBytes(b, "error.error", "internal-error")
		b, _ = sjson.SetBytes(b, "error.reason", fmt.Sprintf("failed to marshal result: %v", err))
		return b
	}
	b, _ = sjson.SetRawBytes(b, "result", raw)
	return b
}

func subFrame(id, name string, params []any) ([]byte, error) {
	return callFrame(MsgSub, "name", id, name, params)
}

func methodFrame(id, name string, params []any) ([]byte, error) {
	return callFrame(MsgMethod, "method", id, name, params)
}

func callFrame(msg, nameKey, id, name string, params []any) ([]byte, error) {
	b, err := sjson.SetBytes(base(msg), "id", id)
	if err != nil {
		return nil, err
	}
	if b, err = sjson.SetBytes(b, nameKey, name); err != nil {
		return nil, err
	}
	if params == nil {
		params = []any{}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}
	return sjson.SetRawBytes(b, "params", raw)
}

// decodeParams reads the optional "params" array of an inbound frame.
func decodeParams(data []byte) ([]any, error) {
	params := gjson.GetBytes(data, "params")
	if !params.Exists() {
		return nil, nil
	}
	if !params.IsArray() {
		return nil, fmt.Errorf("field 'params' must be an array")
	}
	var out []any
	if err := json.Unmarshal([]byte(params.Raw), &out); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	return out, nil
}

// Frame is a decoded server frame as seen by a Client.
type Frame struct {
	Msg        string
	ID         string
	Collection string
	Session    string
	Subs       []string
	Fields     gjson.Result
	Result     gjson.Result
	Error      gjson.Result
	Raw        []byte
}

// Payload decodes the fields of an added or changed frame.
func (f Frame) Payload() (map[string]any, error) {
	if !f.Fields.Exists() {
		return nil, fmt.Errorf("frame %q has no fields", f.Msg)
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(f.Fields.Raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ParseFrame decodes one server frame.
func ParseFrame(data []byte) (Frame, error) {
	if !gjson.ValidBytes(data) {
		return Frame{}, fmt.Errorf("invalid json: %s", data)
	}
	msg := gjson.GetBytes(data, "msg")
	if !msg.Exists() {
		return Frame{}, fmt.Errorf("missing required field 'msg'")
	}
	f := Frame{
		Msg:        msg.String(),
		ID:         gjson.GetBytes(data, "id").String(),
		Collection: gjson.GetBytes(data, "collection").String(),
		Session:    gjson.GetBytes(data, "session").String(),
		Fields:     gjson.GetBytes(data, "fields"),
		Result:     gjson.GetBytes(data, "result"),
		Error:      gjson.GetBytes(data, "error"),
		Raw:        data,
	}
	for _, s := range gjson.GetBytes(data, "subs").Array() {
		f.Subs = append(f.Subs, s.String())
	}
	return f, nil
}

func setID(b []byte, id string) ([]byte, error) {
	return sjson.SetBytes(b, "id", id)
}
