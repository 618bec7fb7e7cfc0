package cursor

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"time"

	"github.com/hydra-ops/hydra/internal/infrastructure/streams"
	"github.com/hydra-ops/hydra/internal/pkg/atomicfile"
)

// FileStore keeps the cursor in a small JSON file, replaced atomically on save.
type FileStore struct {
	path string
	now  func() time.Time
}

type fileState struct {
	LastID    streams.ID `json:"last_id"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, now: time.Now}
}

func (s *FileStore) Load(context.Context) (streams.ID, bool, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return streams.ID{}, false, nil
	}
	if err != nil {
		return streams.ID{}, false, err
	}
	var st fileState
	if err := json.Unmarshal(data, &st); err != nil {
		return streams.ID{}, false, &CorruptError{Source: s.path, Err: err}
	}
	return st.LastID, true, nil
}

func (s *FileStore) Save(_ context.Context, id streams.ID) error {
	data, err := json.Marshal(fileState{LastID: id, UpdatedAt: s.now().UTC()})
	if err != nil {
		return err
	}
	return atomicfile.WriteFile(s.path, data, 0o644)
}
