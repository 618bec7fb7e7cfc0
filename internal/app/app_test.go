package app

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydra-ops/hydra/internal/config"
	"github.com/hydra-ops/hydra/internal/logstore"
)

func localConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HYDRA_PRIMARY__ENV", "test")
	t.Setenv("HYDRA_SERVER__PORT", "0")
	t.Setenv("HYDRA_STREAM__BACKEND", "memory")
	t.Setenv("HYDRA_STREAM__BLOCK_TIMEOUT", "50ms")
	t.Setenv("HYDRA_CURSOR__BACKEND", "file")
	t.Setenv("HYDRA_CURSOR__PATH", filepath.Join(dir, "cursor.json"))
	t.Setenv("HYDRA_STORE__BACKEND", "file")
	t.Setenv("HYDRA_STORE__PATH", filepath.Join(dir, "logs.json"))
	t.Setenv("HYDRA_MODEL__PATH", filepath.Join(dir, "model.bin.zst"))
	t.Setenv("HYDRA_RETRAIN__THRESHOLD", "4")

	cfg, err := config.Load(config.LoadOptions{})
	require.NoError(t, err)
	return cfg
}

func TestApp_StreamToRetrainedModel(t *testing.T) {
	cfg := localConfig(t)
	a, err := New(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	for i := range 4 {
		payload := fmt.Sprintf(`{"timestamp":"2026-01-01T00:00:0%dZ","level":"INFO","message":"m","request":"/api","features":[%d,%d],"label":%d}`,
			i, i%2*10, i%2*10, i%2)
		_, err := a.Publisher().Publish(ctx, []byte(payload))
		require.NoError(t, err)
	}
	// a health probe is consumed but never stored
	_, err = a.Publisher().Publish(ctx, []byte(`{"timestamp":"2026-01-01T00:00:09Z","level":"INFO","message":"ok","request":"/health","features":[1,1]}`))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		info, ok := a.models.Info()
		return ok && !info.Placeholder && info.Samples == 4
	}, 5*time.Second, 10*time.Millisecond)

	n, err := a.store.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	label, err := a.models.Predict([]float64{10, 10})
	require.NoError(t, err)
	assert.Equal(t, 1, label)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop")
	}
}

func TestApp_PruneAndRetrainCommands(t *testing.T) {
	cfg := localConfig(t)
	a, err := New(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()
	ctx := context.Background()

	res, err := a.Prune(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Removed)

	// nothing stored yet, so a forced retrain fails and keeps the placeholder
	_, err = a.Retrain(ctx)
	assert.Error(t, err)
	info, ok := a.models.Info()
	require.True(t, ok)
	assert.True(t, info.Placeholder)
}

func TestApp_MaintenanceRefusedWhileFileStoreInUse(t *testing.T) {
	cfg := localConfig(t)
	running, err := New(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)

	_, err = New(context.Background(), cfg, zerolog.Nop())
	require.Error(t, err)
	assert.ErrorIs(t, err, logstore.ErrLocked)

	require.NoError(t, running.Close())
	again, err := New(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.NoError(t, again.Close())
}
