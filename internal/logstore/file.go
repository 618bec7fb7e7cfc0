package logstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"

	"github.com/hydra-ops/hydra/internal/model"
	"github.com/hydra-ops/hydra/internal/pkg/atomicfile"
)

// ErrLocked is returned by OpenFile when another handle, usually a running
// `hydra run`, holds the store.
var ErrLocked = errors.New("log store is locked by another process")

// File is a Store persisted as one JSON document. Every mutation rewrites
// the document atomically before it becomes visible to readers.
//
// The whole document is held in memory and rewritten on each Append, so
// cost grows with the retained entry count. Use the postgres backend for
// long retention windows or high ingest rates.
//
// A File holds an exclusive lock on "<path>.lock" until Close, so only one
// process mutates the document at a time.
type File struct {
	mu   sync.RWMutex
	path string
	lock *flock.Flock
	st   state
	log  zerolog.Logger
}

// OpenFile locks and loads the store at path, creating it on first save.
// It fails with ErrLocked while another handle is open. A file that cannot
// be parsed is moved aside to "<path>.corrupt-<unix>" and the store starts
// empty.
func OpenFile(path string, log zerolog.Logger) (_ *File, err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &IOError{Op: "open", Err: err}
	}
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, &IOError{Op: "lock", Err: err}
	}
	if !locked {
		return nil, &IOError{Op: "lock", Err: fmt.Errorf("%w: %s", ErrLocked, path)}
	}
	defer func() {
		if err != nil {
			_ = lock.Unlock()
		}
	}()

	f := &File{path: path, lock: lock, log: log}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return f, nil
	case err != nil:
		return nil, &IOError{Op: "open", Err: err}
	case len(data) == 0:
		return f, nil
	}
	if err := json.Unmarshal(data, &f.st); err != nil {
		aside := fmt.Sprintf("%s.corrupt-%d", path, time.Now().Unix())
		if rerr := os.Rename(path, aside); rerr != nil {
			return nil, &IOError{Op: "quarantine corrupt file", Err: errors.Join(err, rerr)}
		}
		log.Warn().Err(err).Str("moved_to", aside).Msg("log store file was corrupt; starting empty")
		f.st = state{}
		return f, nil
	}
	if f.st.Trained > f.st.Appended {
		f.st.Trained = f.st.Appended
	}
	return f, nil
}

func (f *File) save(st *state) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return atomicfile.WriteFile(f.path, data, 0o644)
}

func (f *File) Append(_ context.Context, entries ...model.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	next := f.st
	next.Entries = append(next.Entries[:len(next.Entries):len(next.Entries)], entries...)
	next.Appended += uint64(len(entries))
	if err := f.save(&next); err != nil {
		return &IOError{Op: "append", Err: err}
	}
	f.st = next
	return nil
}

func (f *File) Len(context.Context) (int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.st.Entries), nil
}

func (f *File) Backlog(context.Context) (int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.st.backlog(), nil
}

func (f *File) Snapshot(context.Context) (Snapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.st.snapshot(), nil
}

func (f *File) Prune(_ context.Context, now time.Time, policy Retention) (PruneResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	keep, res := policy.Plan(f.st.Entries, now)
	if res.Removed == 0 {
		return res, nil
	}
	next := f.st
	next.Entries = keep
	if err := f.save(&next); err != nil {
		return PruneResult{}, &IOError{Op: "prune", Err: err}
	}
	f.st = next
	return res, nil
}

func (f *File) MarkTrained(_ context.Context, appended uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	next := f.st
	next.markTrained(appended)
	if next.Trained == f.st.Trained {
		return nil
	}
	if err := f.save(&next); err != nil {
		return &IOError{Op: "mark trained", Err: err}
	}
	f.st = next
	return nil
}

// Close releases the lock. The store must not be used afterwards.
func (f *File) Close() error {
	return f.lock.Unlock()
}
