package streamer

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidEventName is returned when a call does not start with a string event name.
	ErrInvalidEventName = errors.New("streamer: event name must be a string")
)

func eventNameFrom(params []any) (string, error) {
	if len(params) == 0 {
		return "", fmt.Errorf("%w: missing", ErrInvalidEventName)
	}
	eventName, ok := params[0].(string)
	if !ok {
		return "", fmt.Errorf("%w: got %T", ErrInvalidEventName, params[0])
	}
	return eventName, nil
}

// ServeMethod is the handler of the stream-<name> method. The first parameter
// is the event name, the rest are the event arguments. It returns no result.
func (s *Stream) ServeMethod(ctx context.Context, inv *Invocation, params ...any) (any, error) {
	if inv.Unblock != nil {
		inv.Unblock()
	}

	eventName, err := eventNameFrom(params)
	if err != nil {
		return nil, err
	}
	return nil, s.Write(ctx, inv.Caller, eventName, params[1:]...)
}

// ServePublication is the handler of the stream-<name> publication. The
// parameters are the event name and an optional collection compatibility
// flag that only counts when it is exactly true.
func (s *Stream) ServePublication(ctx context.Context, session Session, params ...any) error {
	eventName, err := eventNameFrom(params)
	if err != nil {
		session.Stop()
		return err
	}

	useCollection := len(params) > 1 && params[1] == true
	s.Subscribe(ctx, session, eventName, useCollection)
	return nil
}
