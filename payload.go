package streamer

import (
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// SyntheticID is the record id used for every push of a stream. Collection
// style clients see a single document that keeps changing.
const SyntheticID = "id"

var payloadJSON = []byte(`{"eventName":""}`)

// Payload is the record pushed to subscribers for every broadcast.
type Payload struct {
	EventName string `json:"eventName"`
	Args      []any  `json:"args"`
}

// Fields returns the payload in the shape expected by Session.Changed.
func (p Payload) Fields() map[string]any {
	args := p.Args
	if args == nil {
		args = []any{}
	}
	return map[string]any{
		"eventName": p.EventName,
		"args":      args,
	}
}

// MarshalJSON implements custom JSON marshaling for Payload
func (p Payload) MarshalJSON() ([]byte, error) {
	result, err := sjson.SetBytes(payloadJSON, "eventName", p.EventName)
	if err != nil {
		return nil, err
	}

	args := p.Args
	if args == nil {
		args = []any{}
	}
	argsBytes, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal args: %w", err)
	}
	return sjson.SetRawBytes(result, "args", argsBytes)
}

// UnmarshalJSON implements custom JSON unmarshaling for Payload
func (p *Payload) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("invalid json: %s", data)
	}

	eventName := gjson.GetBytes(data, "eventName")
	if !eventName.Exists() {
		return fmt.Errorf("missing required field 'eventName'")
	}
	p.EventName = eventName.String()

	p.Args = []any{}
	if args := gjson.GetBytes(data, "args"); args.Exists() {
		if !args.IsArray() {
			return fmt.Errorf("field 'args' must be an array")
		}
		if err := json.Unmarshal([]byte(args.Raw), &p.Args); err != nil {
			return fmt.Errorf("invalid args: %w", err)
		}
	}
	return nil
}
