package consumer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydra-ops/hydra/internal/cursor"
	"github.com/hydra-ops/hydra/internal/infrastructure/streams"
	"github.com/hydra-ops/hydra/internal/infrastructure/streams/memstream"
	"github.com/hydra-ops/hydra/internal/logstore"
	"github.com/hydra-ops/hydra/internal/metrics"
	"github.com/hydra-ops/hydra/internal/model"
)

// fakeClient replays scripted read results, then cancels the run.
type fakeClient struct {
	mu       sync.Mutex
	pingErrs []error
	results  []readResult
	afters   []streams.ID
	cancel   context.CancelFunc
}

type readResult struct {
	msgs []streams.Message
	err  error
}

func (f *fakeClient) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pingErrs) == 0 {
		return nil
	}
	err := f.pingErrs[0]
	f.pingErrs = f.pingErrs[1:]
	return err
}

func (f *fakeClient) Read(_ context.Context, after streams.ID, _ int64, _ time.Duration) ([]streams.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.afters = append(f.afters, after)
	if len(f.results) == 0 {
		f.cancel()
		return nil, nil
	}
	r := f.results[0]
	f.results = f.results[1:]
	return r.msgs, r.err
}

func (f *fakeClient) Close() error { return nil }

// fakeClock records sleeps without waiting.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return ctx.Err()
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

type countingNotifier struct{ n int }

func (c *countingNotifier) Notify() { c.n++ }

type harness struct {
	client   *fakeClient
	clock    *fakeClock
	store    logstore.Store
	cursor   *cursor.Cursor
	notifier *countingNotifier
	metrics  *metrics.Metrics
	consumer *Consumer
	ctx      context.Context
}

func newHarness(t *testing.T, store logstore.Store, cursorStore cursor.Store, results ...readResult) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := &harness{
		client:   &fakeClient{results: results, cancel: cancel},
		clock:    &fakeClock{now: time.Unix(0, 0)},
		store:    store,
		cursor:   cursor.New(cursorStore),
		notifier: &countingNotifier{},
		metrics:  metrics.New(prometheus.NewRegistry()),
		ctx:      ctx,
	}
	h.consumer = New(Config{
		Client:           h.client,
		Cursor:           h.cursor,
		Store:            h.store,
		Notifier:         h.notifier,
		Metrics:          h.metrics,
		Clock:            h.clock,
		Logger:           zerolog.Nop(),
		BatchSize:        10,
		ReconnectBackoff: 5 * time.Second,
	})
	return h
}

func (h *harness) run(t *testing.T) {
	t.Helper()
	require.NoError(t, h.consumer.Run(h.ctx))
}

func (h *harness) storeLen(t *testing.T) int {
	t.Helper()
	n, err := h.store.Len(context.Background())
	require.NoError(t, err)
	return n
}

func msg(id string, payload string) streams.Message {
	return streams.Message{ID: streams.MustParseID(id), Payload: []byte(payload)}
}

func mustDecode(t *testing.T, payload string) model.LogEntry {
	t.Helper()
	e, err := model.Decode([]byte(payload))
	require.NoError(t, err)
	return e
}

func trainable(i int) string {
	return fmt.Sprintf(`{"timestamp":"2026-01-01T00:00:%02dZ","level":"INFO","message":"req %d","request":"/api","features":[%d,1],"label":%d}`, i%60, i, i, i%2)
}

const (
	plainLog  = `{"timestamp":"2026-01-01 00:00:00","level":"INFO","message":"Received request: /"}`
	healthLog = `{"timestamp":"2026-01-01 00:00:00","level":"INFO","message":"Health check accessed","request":"/health","features":[1,2]}`
)

func TestConsumer_MalformedThenValid(t *testing.T) {
	h := newHarness(t, logstore.NewMemory(), cursor.NewMemoryStore(), readResult{msgs: []streams.Message{
		msg("10", `{"timestamp":`),
		msg("11", `not json at all`),
		msg("12", `{"level":"INFO","message":"no timestamp","features":[1]}`),
		msg("13", trainable(13)),
		msg("14", trainable(14)),
	}})

	h.run(t)

	assert.Equal(t, 2, h.storeLen(t))
	assert.Equal(t, "14-0", h.cursor.Current().String())
	assert.Equal(t, 3.0, testutil.ToFloat64(h.metrics.MessagesTotal.WithLabelValues(metrics.OutcomeMalformed)))
	assert.Equal(t, 2, h.notifier.n)
	assert.Empty(t, h.clock.Sleeps(), "malformed messages are not retried")
}

func TestConsumer_StoresOnlyTrainableAndTracksHighestID(t *testing.T) {
	h := newHarness(t, logstore.NewMemory(), cursor.NewMemoryStore(),
		readResult{msgs: []streams.Message{
			// delivered out of order within the batch
			msg("1-2", trainable(3)),
			msg("1-0", trainable(1)),
			msg("1-1", plainLog),
		}},
		readResult{},
		readResult{msgs: []streams.Message{
			msg("2-0", healthLog),
			msg("2-1", `{}`),
			msg("2-2", trainable(4)),
			{ID: streams.MustParseID("2-3")},
		}},
	)

	h.run(t)

	assert.Equal(t, 3, h.storeLen(t))
	assert.Equal(t, "2-3", h.cursor.Current().String())
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.MessagesTotal.WithLabelValues(metrics.OutcomeFiltered)))
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.MessagesTotal.WithLabelValues(metrics.OutcomeMalformed)))

	// every read starts from the cursor
	require.Len(t, h.client.afters, 4)
	assert.Equal(t, streams.Beginning, h.client.afters[0])
	assert.Equal(t, "1-2", h.client.afters[1].String())
	assert.Equal(t, "1-2", h.client.afters[2].String())
	assert.Equal(t, "2-3", h.client.afters[3].String())
}

func TestConsumer_OneBackoffAfterConnectionFailure(t *testing.T) {
	h := newHarness(t, logstore.NewMemory(), cursor.NewMemoryStore(),
		readResult{err: &streams.ConnectionError{Op: "xread", Err: errors.New("connection refused")}},
		readResult{msgs: []streams.Message{msg("5", trainable(5))}},
	)

	h.run(t)

	assert.Equal(t, []time.Duration{5 * time.Second}, h.clock.Sleeps())
	assert.Equal(t, 1, h.storeLen(t))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Reconnects))
	assert.Equal(t, StateReading, h.consumer.State())
}

func TestConsumer_RetriesPingUntilBrokerReturns(t *testing.T) {
	h := newHarness(t, logstore.NewMemory(), cursor.NewMemoryStore(),
		readResult{msgs: []streams.Message{msg("5", trainable(5))}},
	)
	down := &streams.ConnectionError{Op: "ping", Err: errors.New("i/o timeout")}
	h.client.pingErrs = []error{down, down, down}

	h.run(t)

	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second, 5 * time.Second}, h.clock.Sleeps())
	assert.Equal(t, 1, h.storeLen(t))
}

func TestConsumer_ResumesAfterPersistedCursor(t *testing.T) {
	cursorStore := cursor.NewMemoryStore()
	store := logstore.NewMemory()

	first := newHarness(t, store, cursorStore, readResult{msgs: []streams.Message{
		msg("10", trainable(10)),
		msg("11", trainable(11)),
		msg("12", trainable(12)),
	}})
	first.run(t)

	// redelivery of already-committed ids is skipped
	second := newHarness(t, store, cursorStore, readResult{msgs: []streams.Message{
		msg("12", trainable(12)),
		msg("13", trainable(13)),
	}})
	second.run(t)

	assert.Equal(t, "12-0", second.client.afters[0].String())
	assert.Equal(t, 4, second.storeLen(t))
	assert.Equal(t, "13-0", second.cursor.Current().String())
	assert.Equal(t, 1.0, testutil.ToFloat64(second.metrics.MessagesTotal.WithLabelValues(metrics.OutcomeDuplicate)))
}

// flakyStore fails the first n appends.
type flakyStore struct {
	*logstore.Memory
	failures int
}

func (s *flakyStore) Append(ctx context.Context, entries ...model.LogEntry) error {
	if s.failures > 0 {
		s.failures--
		return &logstore.IOError{Op: "append", Err: errors.New("disk full")}
	}
	return s.Memory.Append(ctx, entries...)
}

func TestConsumer_RetriesStoreFailuresWithoutSkipping(t *testing.T) {
	store := &flakyStore{Memory: logstore.NewMemory(), failures: 2}
	h := newHarness(t, store, cursor.NewMemoryStore(), readResult{msgs: []streams.Message{msg("7", trainable(7))}})

	h.run(t)

	assert.Equal(t, 1, h.storeLen(t))
	assert.Equal(t, "7-0", h.cursor.Current().String())
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, h.clock.Sleeps())
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.StoreAppendFailures))
}

func TestConsumer_CancelDuringStoreRetryLeavesCursor(t *testing.T) {
	store := &flakyStore{Memory: logstore.NewMemory(), failures: 1}
	h := newHarness(t, store, cursor.NewMemoryStore(), readResult{msgs: []streams.Message{msg("7", trainable(7))}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.consumer.append(ctx, mustDecode(t, trainable(7)))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, streams.Beginning, h.cursor.Current())
}

func TestConsumer_StopsOnCancelDuringBlockingRead(t *testing.T) {
	stream := memstream.New(0)
	store := logstore.NewMemory()
	c := New(Config{
		Client:       stream,
		Cursor:       cursor.New(cursor.NewMemoryStore()),
		Store:        store,
		Logger:       zerolog.Nop(),
		BlockTimeout: time.Minute,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.NoError(t, stream.PublishWithID(streams.MustParseID("1"), []byte(trainable(1))))
	require.Eventually(t, func() bool {
		n, _ := store.Len(context.Background())
		return n == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop after cancel")
	}
}

func TestConsumer_CorruptCursorStopsWithoutReading(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cursor.json")
	require.NoError(t, os.WriteFile(path, []byte("{garbage"), 0o644))
	h := newHarness(t, logstore.NewMemory(), cursor.NewFileStore(path), readResult{msgs: []streams.Message{msg("1", trainable(1))}})

	err := h.consumer.Run(h.ctx)
	require.Error(t, err)
	assert.True(t, cursor.IsCorrupt(err))
	assert.Empty(t, h.client.afters)
	assert.Empty(t, h.clock.Sleeps())
	assert.Zero(t, h.storeLen(t))
}

// downCursorStore fails the first n loads as an unreachable backend would.
type downCursorStore struct {
	*cursor.MemoryStore
	failures int
}

func (s *downCursorStore) Load(ctx context.Context) (streams.ID, bool, error) {
	if s.failures > 0 {
		s.failures--
		return streams.ID{}, false, &streams.ConnectionError{Op: "get cursor", Err: errors.New("connection refused")}
	}
	return s.MemoryStore.Load(ctx)
}

func TestConsumer_RetriesUnreachableCursorStore(t *testing.T) {
	cs := &downCursorStore{MemoryStore: cursor.NewMemoryStore(), failures: 2}
	h := newHarness(t, logstore.NewMemory(), cs, readResult{msgs: []streams.Message{msg("3", trainable(3))}})

	h.run(t)

	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, h.clock.Sleeps())
	assert.Equal(t, "3-0", h.cursor.Current().String())
}
