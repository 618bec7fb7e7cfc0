package streams

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Message is one stream entry. Payload is the raw log JSON; it is nil when
// the entry did not carry the configured field.
type Message struct {
	ID      ID
	Payload []byte
}

// Client reads a stream from an arbitrary position.
type Client interface {
	// Ping checks that the broker is reachable.
	Ping(ctx context.Context) error
	// Read returns up to count messages with ids after the given one, in
	// ascending order, blocking up to block when none are available. An
	// empty result with a nil error means the wait timed out.
	Read(ctx context.Context, after ID, count int64, block time.Duration) ([]Message, error)
	Close() error
}

// Publisher appends payloads to a stream (the producer side).
type Publisher interface {
	Publish(ctx context.Context, payload []byte) (ID, error)
}

// Stream is a backend that can both read and publish.
type Stream interface {
	Client
	Publisher
}

// ConnectionError reports that the broker could not be reached or the
// connection broke mid-operation.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("stream %s: connection error: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// IsConnectionError reports whether err is, or wraps, a ConnectionError.
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}
