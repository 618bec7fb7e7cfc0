package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydra-ops/hydra/internal/config"
	"github.com/hydra-ops/hydra/internal/ml"
)

// fakeO3 serves path-style GET/PUT/HEAD for a single bucket.
type fakeO3 struct {
	mu      sync.Mutex
	bucket  string
	objects map[string][]byte
}

func (f *fakeO3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	bucket, key, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if bucket != f.bucket {
		writeS3Error(w, http.StatusNotFound, "NoSuchBucket")
		return
	}
	switch {
	case key == "" && (r.Method == http.MethodHead || r.Method == http.MethodPut):
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPut:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		f.objects[key] = body
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodGet:
		data, ok := f.objects[key]
		if !ok {
			writeS3Error(w, http.StatusNotFound, "NoSuchKey")
			return
		}
		w.Header().Set("Content-Type", artifactContentType)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func writeS3Error(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>`+code+`</Code><Message>`+code+`</Message></Error>`)
}

func newTestStore(t *testing.T) (*O3ArtifactStore, *fakeO3) {
	t.Helper()
	fake := &fakeO3{bucket: "models", objects: map[string][]byte{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	store, err := NewO3ArtifactStore(config.O3Config{
		Endpoint:  srv.URL,
		Bucket:    "models",
		AccessKey: "test",
		SecretKey: "test",
	}, "models/current.bin.zst")
	require.NoError(t, err)
	return store, fake
}

func TestO3ArtifactStore_SaveLoad(t *testing.T) {
	store, fake := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.EnsureBucket(ctx))

	_, err := store.Load(ctx)
	assert.ErrorIs(t, err, ml.ErrArtifactNotFound)

	require.NoError(t, store.Save(ctx, []byte("artifact-v1")))
	require.NoError(t, store.Save(ctx, []byte("artifact-v2")))
	assert.Len(t, fake.objects, 1)

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("artifact-v2"), got)
}

func TestNewO3ArtifactStore_RequiresEndpointAndBucket(t *testing.T) {
	_, err := NewO3ArtifactStore(config.O3Config{Bucket: "b"}, "k")
	assert.Error(t, err)
	_, err = NewO3ArtifactStore(config.O3Config{Endpoint: "http://localhost:9000"}, "k")
	assert.Error(t, err)
	_, err = NewO3ArtifactStore(config.O3Config{Endpoint: "http://localhost:9000", Bucket: "b"}, "")
	assert.Error(t, err)
}
