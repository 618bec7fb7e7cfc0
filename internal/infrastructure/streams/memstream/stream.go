// Package memstream is an in-process stream with Redis stream semantics,
// used for single-process deployments and tests.
package memstream

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hydra-ops/hydra/internal/infrastructure/streams"
)

var ErrClosed = errors.New("memstream: closed")

func init() {
	streams.GlobalRegistry.Register(&Factory{})
}

// Factory creates in-memory streams. Registers as "memory".
type Factory struct{}

func (f *Factory) Name() string { return "memory" }

func (f *Factory) Create(cfg streams.Config) (streams.Stream, error) {
	return New(int(cfg.Int("max_len", 0))), nil
}

// Stream keeps messages in memory, ordered by id.
type Stream struct {
	mu      sync.Mutex
	msgs    []streams.Message
	last    streams.ID
	maxLen  int
	changed chan struct{}
	closed  bool
	now     func() time.Time
}

// New returns an empty stream. maxLen caps retained messages; 0 keeps all.
func New(maxLen int) *Stream {
	return &Stream{
		maxLen:  maxLen,
		changed: make(chan struct{}),
		now:     time.Now,
	}
}

func (s *Stream) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &streams.ConnectionError{Op: "ping", Err: ErrClosed}
	}
	return nil
}

// Publish appends payload under an id derived from the wall clock.
func (s *Stream) Publish(ctx context.Context, payload []byte) (streams.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := streams.ID{Ms: uint64(s.now().UnixMilli())}
	if !id.After(s.last) {
		id = s.last.Next()
	}
	if err := s.appendLocked(id, payload); err != nil {
		return streams.ID{}, err
	}
	return id, nil
}

// PublishWithID appends payload under an explicit id, which must be after
// every id already in the stream.
func (s *Stream) PublishWithID(id streams.ID, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !id.After(s.last) {
		return fmt.Errorf("memstream: id %s is not after %s", id, s.last)
	}
	return s.appendLocked(id, payload)
}

func (s *Stream) appendLocked(id streams.ID, payload []byte) error {
	if s.closed {
		return &streams.ConnectionError{Op: "publish", Err: ErrClosed}
	}
	s.msgs = append(s.msgs, streams.Message{ID: id, Payload: append([]byte(nil), payload...)})
	if s.maxLen > 0 && len(s.msgs) > s.maxLen {
		s.msgs = append([]streams.Message(nil), s.msgs[len(s.msgs)-s.maxLen:]...)
	}
	s.last = id
	close(s.changed)
	s.changed = make(chan struct{})
	return nil
}

func (s *Stream) Read(ctx context.Context, after streams.ID, count int64, block time.Duration) ([]streams.Message, error) {
	var timeout <-chan time.Time
	if block > 0 {
		t := time.NewTimer(block)
		defer t.Stop()
		timeout = t.C
	}
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, &streams.ConnectionError{Op: "read", Err: ErrClosed}
		}
		out := s.collectLocked(after, count)
		changed := s.changed
		s.mu.Unlock()

		if len(out) > 0 || timeout == nil {
			return out, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-changed:
		case <-timeout:
			return nil, nil
		}
	}
}

func (s *Stream) collectLocked(after streams.ID, count int64) []streams.Message {
	i := sort.Search(len(s.msgs), func(i int) bool { return s.msgs[i].ID.After(after) })
	end := len(s.msgs)
	if count > 0 && int64(end-i) > count {
		end = i + int(count)
	}
	if i >= end {
		return nil
	}
	out := make([]streams.Message, end-i)
	copy(out, s.msgs[i:end])
	return out
}

// Len reports how many messages are retained.
func (s *Stream) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.changed)
	}
	return nil
}
