// Package redisstream reads and publishes log messages on a Redis stream.
package redisstream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hydra-ops/hydra/internal/infrastructure/streams"
)

const (
	DefaultKey    = "flask_logs"
	DefaultField  = "log"
	DefaultMaxLen = 2000
)

// Stream is a streams.Stream backed by a single Redis stream key. Each entry
// carries the log JSON under one field.
type Stream struct {
	rdb    redis.UniversalClient
	key    string
	field  string
	maxLen int64
}

// Options configures a Stream.
type Options struct {
	Key    string
	Field  string
	MaxLen int64 // approximate cap applied on publish; 0 disables trimming
}

// New wraps an existing client. The caller keeps ownership of rdb only if it
// does not call Close on the returned Stream.
func New(rdb redis.UniversalClient, opts Options) *Stream {
	if opts.Key == "" {
		opts.Key = DefaultKey
	}
	if opts.Field == "" {
		opts.Field = DefaultField
	}
	return &Stream{rdb: rdb, key: opts.Key, field: opts.Field, maxLen: opts.MaxLen}
}

func (s *Stream) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return &streams.ConnectionError{Op: "ping", Err: err}
	}
	return nil
}

func (s *Stream) Read(ctx context.Context, after streams.ID, count int64, block time.Duration) ([]streams.Message, error) {
	res, err := s.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{s.key, after.String()},
		Count:   count,
		Block:   block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &streams.ConnectionError{Op: "xread", Err: err}
	}
	var out []streams.Message
	for _, st := range res {
		msgs, err := toMessages(st.Messages, s.field)
		if err != nil {
			return nil, err
		}
		out = append(out, msgs...)
	}
	return out, nil
}

func (s *Stream) Publish(ctx context.Context, payload []byte) (streams.ID, error) {
	args := &redis.XAddArgs{
		Stream: s.key,
		Values: map[string]any{s.field: string(payload)},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	raw, err := s.rdb.XAdd(ctx, args).Result()
	if err != nil {
		return streams.ID{}, &streams.ConnectionError{Op: "xadd", Err: err}
	}
	return streams.ParseID(raw)
}

func (s *Stream) Close() error {
	return s.rdb.Close()
}

// toMessages converts go-redis entries. An entry without the payload field
// keeps a nil payload so the consumer can reject it and move past it.
func toMessages(entries []redis.XMessage, field string) ([]streams.Message, error) {
	out := make([]streams.Message, 0, len(entries))
	for _, m := range entries {
		id, err := streams.ParseID(m.ID)
		if err != nil {
			return nil, fmt.Errorf("xread: %w", err)
		}
		msg := streams.Message{ID: id}
		switch v := m.Values[field].(type) {
		case string:
			msg.Payload = []byte(v)
		case []byte:
			msg.Payload = v
		}
		out = append(out, msg)
	}
	return out, nil
}
