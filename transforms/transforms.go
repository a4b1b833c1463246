// Package transforms contains reusable stream transforms.
//
// Both transforms here stamp a field onto the write. When the last argument is
// a map[string]any the field is set on a copy of that map, otherwise a new
// single field map is appended to the arguments.
package transforms

import (
	"maps"
	"time"

	"github.com/casualjim/streamer"
	"github.com/go-openapi/strfmt"
)

// DefaultTimestampField is the field ServerTimestamp writes when none is given.
const DefaultTimestampField = "serverTime"

// ServerTimestamp returns a wildcard transform that stamps every write with
// the server time under field. A nil clock uses time.Now.
func ServerTimestamp(field string, clock func() time.Time) streamer.Registration {
	if field == "" {
		field = DefaultTimestampField
	}
	if clock == nil {
		clock = time.Now
	}
	return streamer.ForAll(func(_ *streamer.WriteScope, _ string, args []any) (any, error) {
		return stamp(args, field, strfmt.DateTime(clock().UTC())), nil
	})
}

// CallerID returns a wildcard transform that stamps every write with the user
// id of the writer under field. Anonymous writes are stamped with an empty id.
func CallerID(field string) streamer.Registration {
	return streamer.ForAll(func(scope *streamer.WriteScope, _ string, args []any) (any, error) {
		return stamp(args, field, scope.UserID()), nil
	})
}

func stamp(args []any, field string, value any) []any {
	out := make([]any, len(args), len(args)+1)
	copy(out, args)

	if n := len(out); n > 0 {
		if last, ok := out[n-1].(map[string]any); ok {
			fields := maps.Clone(last)
			if fields == nil {
				fields = make(map[string]any, 1)
			}
			fields[field] = value
			out[n-1] = fields
			return out
		}
	}
	return append(out, map[string]any{field: value})
}
