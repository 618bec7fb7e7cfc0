package cursor

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/hydra-ops/hydra/internal/infrastructure/streams"
)

// RedisStore keeps the cursor in a Redis string key, next to the stream it tracks.
type RedisStore struct {
	rdb redis.UniversalClient
	key string
}

func NewRedisStore(rdb redis.UniversalClient, key string) *RedisStore {
	return &RedisStore{rdb: rdb, key: key}
}

func (s *RedisStore) Load(ctx context.Context) (streams.ID, bool, error) {
	raw, err := s.rdb.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return streams.ID{}, false, nil
	}
	if err != nil {
		return streams.ID{}, false, &streams.ConnectionError{Op: "get cursor", Err: err}
	}
	id, err := streams.ParseID(raw)
	if err != nil {
		return streams.ID{}, false, &CorruptError{Source: "redis key " + s.key, Err: err}
	}
	return id, true, nil
}

func (s *RedisStore) Save(ctx context.Context, id streams.ID) error {
	if err := s.rdb.Set(ctx, s.key, id.String(), 0).Err(); err != nil {
		return &streams.ConnectionError{Op: "set cursor", Err: err}
	}
	return nil
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
