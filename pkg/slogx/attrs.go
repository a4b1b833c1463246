package slogx

import (
	"log/slog"
)

const (
	// KeyLoggerName is the key for the logger name attribute.
	KeyLoggerName = "logger"
	// KeyStream is the key under which a stream name is logged.
	KeyStream = "stream"
	// KeyEvent is the key under which an event name is logged.
	KeyEvent = "event"
	// KeySubscriber is the key under which a subscriber handle id is logged.
	KeySubscriber = "subscriber"
)

// Error returns a slog.Attr representing the provided error.
// The attribute key is "error" and the value is the error's message.
// A nil error is rendered as an empty string so callers don't need to guard.
//
// Parameters:
//   - err: The error to be converted into a slog.Attr.
//
// Returns:
//   - slog.Attr: An attribute with the key "error" and the error's message as the value.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}

// Stream returns an attribute carrying the name of a stream.
func Stream(name string) slog.Attr {
	return slog.String(KeyStream, name)
}

// Event returns an attribute carrying an event name.
func Event(name string) slog.Attr {
	return slog.String(KeyEvent, name)
}

// Subscriber returns an attribute carrying the id of a subscriber handle.
func Subscriber(id string) slog.Attr {
	return slog.String(KeySubscriber, id)
}

// LoggerName creates a slog.Attr with the provided logger name.
// The attribute key is defined by KeyLoggerName.
//
// Parameters:
//   - name: The name of the logger.
//
// Returns:
//
//	A slog.Attr containing the logger name.
func LoggerName(name string) slog.Attr {
	return slog.String(KeyLoggerName, name)
}
