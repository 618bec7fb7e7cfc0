package logstore

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/hydra-ops/hydra/internal/model"
)

// state is the full contents of an in-process store.
type state struct {
	Entries  []model.LogEntry `json:"entries"`
	Appended uint64           `json:"appended"`
	Trained  uint64           `json:"trained"`
}

func (s *state) backlog() int {
	return int(s.Appended - s.Trained)
}

func (s *state) markTrained(appended uint64) {
	appended = min(appended, s.Appended)
	if appended > s.Trained {
		s.Trained = appended
	}
}

func (s *state) snapshot() Snapshot {
	return Snapshot{
		Entries:  slices.Clone(s.Entries),
		Appended: s.Appended,
		Backlog:  s.backlog(),
	}
}

// Memory is a Store that lives in process memory.
type Memory struct {
	mu sync.RWMutex
	st state
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Append(_ context.Context, entries ...model.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.Entries = append(m.st.Entries, entries...)
	m.st.Appended += uint64(len(entries))
	return nil
}

func (m *Memory) Len(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.st.Entries), nil
}

func (m *Memory) Backlog(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.backlog(), nil
}

func (m *Memory) Snapshot(context.Context) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.snapshot(), nil
}

func (m *Memory) Prune(_ context.Context, now time.Time, policy Retention) (PruneResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keep, res := policy.Plan(m.st.Entries, now)
	m.st.Entries = keep
	return res, nil
}

func (m *Memory) MarkTrained(_ context.Context, appended uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.markTrained(appended)
	return nil
}

func (m *Memory) Close() error { return nil }
