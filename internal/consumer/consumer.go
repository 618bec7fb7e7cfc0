// Package consumer reads log messages from the stream, keeps the trainable
// ones, and moves the cursor past everything it has seen.
package consumer

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/hydra-ops/hydra/internal/cursor"
	"github.com/hydra-ops/hydra/internal/infrastructure/streams"
	"github.com/hydra-ops/hydra/internal/logstore"
	"github.com/hydra-ops/hydra/internal/metrics"
	"github.com/hydra-ops/hydra/internal/model"
)

const (
	DefaultBatchSize        = 5
	DefaultBlockTimeout     = 5 * time.Second
	DefaultReconnectBackoff = 5 * time.Second
)

// State is the consumer's connection state.
type State int32

const (
	StateConnecting State = iota
	StateReading
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReading:
		return "reading"
	}
	return "unknown"
}

// Notifier is told when trainable entries were stored.
type Notifier interface {
	Notify()
}

// Config wires a Consumer. Client, Cursor and Store are required.
type Config struct {
	Client   streams.Client
	Cursor   *cursor.Cursor
	Store    logstore.Store
	Notifier Notifier
	Metrics  *metrics.Metrics
	Clock    Clock
	Logger   zerolog.Logger

	BatchSize        int64
	BlockTimeout     time.Duration
	ReconnectBackoff time.Duration
}

// Consumer is the long-running stream reader. It delivers at least once:
// a crash between storing an entry and persisting the cursor replays that
// message on restart.
type Consumer struct {
	client   streams.Client
	cursor   *cursor.Cursor
	store    logstore.Store
	notifier Notifier
	metrics  *metrics.Metrics
	log      zerolog.Logger

	batchSize    int64
	blockTimeout time.Duration

	state        atomic.Int32
	reconnect    *Backoff
	storeBackoff *Backoff
}

// New builds a Consumer, filling unset tunables with defaults.
func New(cfg Config) *Consumer {
	if cfg.Clock == nil {
		cfg.Clock = RealClock()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = DefaultBlockTimeout
	}
	if cfg.ReconnectBackoff <= 0 {
		cfg.ReconnectBackoff = DefaultReconnectBackoff
	}
	return &Consumer{
		client:       cfg.Client,
		cursor:       cfg.Cursor,
		store:        cfg.Store,
		notifier:     cfg.Notifier,
		metrics:      cfg.Metrics,
		log:          cfg.Logger.With().Str("component", "consumer").Logger(),
		batchSize:    cfg.BatchSize,
		blockTimeout: cfg.BlockTimeout,
		reconnect:    NewBackoff(cfg.ReconnectBackoff, cfg.Clock),
		storeBackoff: NewBackoff(cfg.ReconnectBackoff, cfg.Clock),
	}
}

// State reports the current connection state.
func (c *Consumer) State() State {
	return State(c.state.Load())
}

func (c *Consumer) setState(s State) {
	if old := State(c.state.Swap(int32(s))); old != s {
		c.log.Debug().Stringer("from", old).Stringer("to", s).Msg("state change")
	}
}

// Run consumes until ctx is cancelled, which is a clean stop and returns
// nil. Connectivity problems are retried forever. A cursor regression or a
// corrupt stored cursor is returned, since both need an operator.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.loadCursor(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		c.log.Error().Err(err).Msg("stored cursor is corrupt; stopping consumer")
		return err
	}
	if c.cursor.Current().IsBeginning() {
		c.log.Info().Msg("no stored cursor; consuming from the start of the stream")
	}
	c.log.Info().Stringer("cursor", c.cursor.Current()).Msg("consumer started")
	c.setState(StateConnecting)

	for {
		if ctx.Err() != nil {
			c.log.Info().Stringer("cursor", c.cursor.Current()).Msg("consumer stopped")
			return nil
		}

		switch c.State() {
		case StateConnecting:
			if err := c.client.Ping(ctx); err != nil {
				if ctx.Err() != nil {
					continue
				}
				c.log.Warn().Err(err).Int("attempt", c.reconnect.Attempts+1).Dur("backoff", c.reconnect.Interval).Msg("stream unreachable")
				c.waitReconnect(ctx)
				continue
			}
			if c.reconnect.Attempts > 0 {
				c.log.Info().Int("attempts", c.reconnect.Attempts).Msg("stream reconnected")
			}
			c.reconnect.Reset()
			c.setState(StateReading)

		case StateReading:
			err := c.poll(ctx)
			switch {
			case err == nil, ctx.Err() != nil:
			case cursor.IsCursorError(err):
				c.log.Error().Err(err).Msg("cursor regression; stopping consumer")
				return err
			default:
				c.log.Warn().Err(err).Dur("backoff", c.reconnect.Interval).Msg("stream read failed")
				c.setState(StateConnecting)
				c.waitReconnect(ctx)
			}
		}
	}
}

func (c *Consumer) waitReconnect(ctx context.Context) {
	c.metrics.Reconnect()
	_ = c.reconnect.Wait(ctx)
}

// loadCursor retries until the cursor store answers or ctx ends. A corrupt
// value is returned at once.
func (c *Consumer) loadCursor(ctx context.Context) error {
	for {
		_, err := c.cursor.Load(ctx)
		if err == nil {
			c.reconnect.Reset()
			return nil
		}
		if cursor.IsCorrupt(err) {
			return err
		}
		c.log.Warn().Err(err).Msg("cursor store unavailable")
		c.metrics.Reconnect()
		if werr := c.reconnect.Wait(ctx); werr != nil {
			return werr
		}
	}
}

// poll reads one batch after the cursor and handles it in id order.
func (c *Consumer) poll(ctx context.Context) error {
	msgs, err := c.client.Read(ctx, c.cursor.Current(), c.batchSize, c.blockTimeout)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].ID.Compare(msgs[j].ID) < 0 })

	for _, m := range msgs {
		if err := c.handle(ctx, m); err != nil {
			return err
		}
	}
	if c.cursor.Dirty() {
		if err := c.cursor.Persist(ctx); err != nil {
			c.metrics.CursorPersistFailed()
			c.log.Error().Err(err).Msg("cursor not persisted after batch")
		}
	}
	return nil
}

// handle validates, stores and commits one message.
func (c *Consumer) handle(ctx context.Context, m streams.Message) error {
	if !m.ID.After(c.cursor.Current()) {
		c.metrics.MessageHandled(metrics.OutcomeDuplicate)
		return nil
	}

	entry, err := model.Decode(m.Payload)
	switch {
	case err != nil:
		c.log.Warn().Err(err).Stringer("id", m.ID).Msg("skipping malformed message")
		c.metrics.MessageHandled(metrics.OutcomeMalformed)
	case !model.IsTrainable(entry):
		c.metrics.MessageHandled(metrics.OutcomeFiltered)
	default:
		if err := c.append(ctx, entry); err != nil {
			return err
		}
		c.metrics.MessageHandled(metrics.OutcomeStored)
		if c.notifier != nil {
			c.notifier.Notify()
		}
	}

	if err := c.cursor.Advance(m.ID); err != nil {
		return err
	}
	if err := c.cursor.Persist(ctx); err != nil {
		c.metrics.CursorPersistFailed()
		c.log.Error().Err(err).Stringer("id", m.ID).Msg("cursor persist failed; will retry")
	}
	return nil
}

// append retries store failures until they clear; the cursor must not move
// past an entry that was not stored.
func (c *Consumer) append(ctx context.Context, e model.LogEntry) error {
	for {
		err := c.store.Append(ctx, e)
		if err == nil {
			c.storeBackoff.Reset()
			return nil
		}
		c.metrics.StoreAppendFailed()
		c.log.Error().Err(err).Int("attempt", c.storeBackoff.Attempts+1).Msg("log store append failed; retrying")
		if werr := c.storeBackoff.Wait(ctx); werr != nil {
			return werr
		}
	}
}
