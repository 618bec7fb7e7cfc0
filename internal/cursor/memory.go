package cursor

import (
	"context"
	"sync"

	"github.com/hydra-ops/hydra/internal/infrastructure/streams"
)

// MemoryStore keeps the cursor in process memory. Positions are lost on restart.
type MemoryStore struct {
	mu    sync.Mutex
	id    streams.ID
	saved bool
	saves int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(context.Context) (streams.ID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id, s.saved, nil
}

func (s *MemoryStore) Save(_ context.Context, id streams.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = id
	s.saved = true
	s.saves++
	return nil
}

// Saves reports how many times Save was called.
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}
