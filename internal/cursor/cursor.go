// Package cursor tracks the last stream position the consumer finished with,
// so consumption resumes after a restart instead of starting over.
package cursor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hydra-ops/hydra/internal/infrastructure/streams"
)

// Store persists a cursor value.
type Store interface {
	// Load returns the saved position; ok is false when nothing was saved yet.
	Load(ctx context.Context) (id streams.ID, ok bool, err error)
	Save(ctx context.Context, id streams.ID) error
}

// Error reports an attempt to move the cursor backwards or keep it in place.
// It means the caller's view of the stream is corrupt.
type Error struct {
	Current   streams.ID
	Attempted streams.ID
}

func (e *Error) Error() string {
	return fmt.Sprintf("cursor: cannot advance from %s to %s", e.Current, e.Attempted)
}

// IsCursorError reports whether err is, or wraps, a cursor Error.
func IsCursorError(err error) bool {
	var ce *Error
	return errors.As(err, &ce)
}

// CorruptError reports a stored cursor value that cannot be parsed. Retrying
// does not help; the stored state has to be repaired or removed.
type CorruptError struct {
	Source string
	Err    error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("cursor: corrupt value in %s: %v", e.Source, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

func IsCorrupt(err error) bool {
	var ce *CorruptError
	return errors.As(err, &ce)
}

// Cursor is the consumer's position in the stream.
type Cursor struct {
	mu        sync.Mutex
	store     Store
	current   streams.ID
	persisted streams.ID
}

// New returns a cursor at the beginning of the stream. Call Load to resume
// from the stored position.
func New(store Store) *Cursor {
	return &Cursor{store: store}
}

// Load reads the stored position, falling back to streams.Beginning.
func (c *Cursor) Load(ctx context.Context) (streams.ID, error) {
	id, ok, err := c.store.Load(ctx)
	if err != nil {
		return streams.ID{}, fmt.Errorf("load cursor: %w", err)
	}
	if !ok {
		id = streams.Beginning
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = id
	c.persisted = id
	return id, nil
}

// Current returns the in-memory position.
func (c *Cursor) Current() streams.ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Advance moves the cursor to id, which must be strictly after the current position.
func (c *Cursor) Advance(id streams.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !id.After(c.current) {
		return &Error{Current: c.current, Attempted: id}
	}
	c.current = id
	return nil
}

// Dirty reports whether the in-memory position is ahead of the stored one.
func (c *Cursor) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != c.persisted
}

// Persist saves the current position. It is a no-op when nothing changed.
func (c *Cursor) Persist(ctx context.Context) error {
	c.mu.Lock()
	id := c.current
	clean := id == c.persisted
	c.mu.Unlock()
	if clean {
		return nil
	}
	if err := c.store.Save(ctx, id); err != nil {
		return fmt.Errorf("persist cursor %s: %w", id, err)
	}
	c.mu.Lock()
	if id.After(c.persisted) {
		c.persisted = id
	}
	c.mu.Unlock()
	return nil
}
