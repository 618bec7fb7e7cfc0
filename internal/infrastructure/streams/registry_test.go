package streams

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopStream struct{ cfg Config }

func (nopStream) Ping(context.Context) error { return nil }
func (nopStream) Read(context.Context, ID, int64, time.Duration) ([]Message, error) {
	return nil, nil
}
func (nopStream) Publish(context.Context, []byte) (ID, error) { return ID{}, nil }
func (nopStream) Close() error                               { return nil }

type nopFactory struct{}

func (nopFactory) Name() string { return "nop" }
func (nopFactory) Create(cfg Config) (Stream, error) {
	return nopStream{cfg: cfg}, nil
}

func TestRegistry_CreateRegistered(t *testing.T) {
	reg := NewRegistry()
	reg.Register(nopFactory{})

	s, err := reg.Create("nop", Config{"key": "k"})
	require.NoError(t, err)
	assert.Equal(t, "k", s.(nopStream).cfg.String("key", ""))
	assert.Equal(t, []string{"nop"}, reg.ListRegistered())
}

func TestRegistry_UnknownBackend(t *testing.T) {
	_, err := NewRegistry().Create("kafka", nil)
	assert.ErrorContains(t, err, "unknown stream backend")
}

func TestConfig_Accessors(t *testing.T) {
	cfg := Config{"addr": "localhost:6379", "db": 2, "count": float64(7), "block": "250ms"}
	assert.Equal(t, "localhost:6379", cfg.String("addr", ""))
	assert.Equal(t, "x", cfg.String("missing", "x"))
	assert.Equal(t, int64(2), cfg.Int("db", 0))
	assert.Equal(t, int64(7), cfg.Int("count", 0))
	assert.Equal(t, 250*time.Millisecond, cfg.Duration("block", 0))
	assert.Equal(t, time.Second, cfg.Duration("missing", time.Second))
}
