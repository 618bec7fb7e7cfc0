// Package logstore retains trainable log entries and tracks how many arrived
// since the model was last trained.
package logstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hydra-ops/hydra/internal/model"
)

// Store is the durable collection of trainable entries. Every method is
// atomic with respect to the others.
type Store interface {
	// Append adds entries in order. Duplicates are accepted.
	Append(ctx context.Context, entries ...model.LogEntry) error
	// Len returns the number of retained entries.
	Len(ctx context.Context) (int, error)
	// Backlog returns how many entries were appended since the last MarkTrained.
	Backlog(ctx context.Context) (int, error)
	// Snapshot copies the retained entries together with the append mark
	// needed by MarkTrained.
	Snapshot(ctx context.Context) (Snapshot, error)
	// Prune drops entries older than the retention window, or nothing at
	// all when that would leave fewer than policy.MinRetained.
	Prune(ctx context.Context, now time.Time, policy Retention) (PruneResult, error)
	// MarkTrained records that every entry up to the given append mark has
	// been trained on. Entries are not removed.
	MarkTrained(ctx context.Context, appended uint64) error
	Close() error
}

// Snapshot is a point-in-time copy of a Store.
type Snapshot struct {
	Entries []model.LogEntry
	// Appended counts every entry ever appended, including pruned ones.
	Appended uint64
	Backlog  int
}

// Samples returns the labeled training rows in the snapshot.
func (s Snapshot) Samples() []model.Sample {
	out := make([]model.Sample, 0, len(s.Entries))
	for _, e := range s.Entries {
		if sample, ok := e.Sample(); ok {
			out = append(out, sample)
		}
	}
	return out
}

// IOError reports a persistence failure. The store's contents are unchanged
// when a mutating call returns it.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string { return fmt.Sprintf("log store %s: %v", e.Op, e.Err) }

func (e *IOError) Unwrap() error { return e.Err }

// IsIOError reports whether err is, or wraps, an IOError.
func IsIOError(err error) bool {
	var ioe *IOError
	return errors.As(err, &ioe)
}
