package redisstream

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hydra-ops/hydra/internal/infrastructure/streams"
)

func init() {
	streams.GlobalRegistry.Register(&Factory{})
}

// Factory creates Redis-backed streams. Registers as "redis".
type Factory struct{}

func (f *Factory) Name() string {
	return "redis"
}

// Create reads addr (required), password, db, key, field, max_len and
// dial_timeout from cfg.
func (f *Factory) Create(cfg streams.Config) (streams.Stream, error) {
	addr := cfg.String("addr", "")
	if addr == "" {
		return nil, fmt.Errorf("missing 'addr' for redis stream")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    cfg.String("password", ""),
		DB:          int(cfg.Int("db", 0)),
		DialTimeout: cfg.Duration("dial_timeout", 5*time.Second),
	})
	return New(rdb, Options{
		Key:    cfg.String("key", DefaultKey),
		Field:  cfg.String("field", DefaultField),
		MaxLen: cfg.Int("max_len", DefaultMaxLen),
	}), nil
}
