package ml

import (
	"context"
	"errors"
	"os"

	"github.com/hydra-ops/hydra/internal/pkg/atomicfile"
)

// ArtifactStore persists the encoded current model.
type ArtifactStore interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
}

// FileArtifactStore keeps the artifact in a single local file.
type FileArtifactStore struct {
	path string
}

func NewFileArtifactStore(path string) *FileArtifactStore {
	return &FileArtifactStore{path: path}
}

func (s *FileArtifactStore) Load(context.Context) ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrArtifactNotFound
	}
	return data, err
}

func (s *FileArtifactStore) Save(_ context.Context, data []byte) error {
	return atomicfile.WriteFile(s.path, data, 0o644)
}
