// Package retrain decides when enough new entries have accumulated to fit a
// fresh model, and keeps the log store inside its retention policy.
package retrain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/rs/zerolog"

	"github.com/hydra-ops/hydra/internal/logstore"
	"github.com/hydra-ops/hydra/internal/metrics"
	"github.com/hydra-ops/hydra/internal/ml"
)

const (
	DefaultThreshold     = 100
	DefaultCheckInterval = 30 * time.Second
	DefaultPruneInterval = time.Hour
)

// Error reports a retrain that did not complete. The backlog is left as it
// was, so the next check tries again.
type Error struct {
	Backlog int
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("retrain with backlog %d: %v", e.Backlog, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

type Config struct {
	Store     logstore.Store
	Trainer   ml.Trainer
	Models    *ml.Manager
	Retention logstore.Retention
	Metrics   *metrics.Metrics
	NewRelic  *newrelic.Application
	Logger    zerolog.Logger

	Threshold     int
	CheckInterval time.Duration
	PruneInterval time.Duration
	Now           func() time.Time
}

type Scheduler struct {
	store     logstore.Store
	trainer   ml.Trainer
	models    *ml.Manager
	retention logstore.Retention
	metrics   *metrics.Metrics
	nr        *newrelic.Application
	log       zerolog.Logger

	threshold     int
	checkInterval time.Duration
	pruneInterval time.Duration
	now           func() time.Time

	notify chan struct{}
}

func New(cfg Config) *Scheduler {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultCheckInterval
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = DefaultPruneInterval
	}
	if cfg.Retention == (logstore.Retention{}) {
		cfg.Retention = logstore.DefaultRetention()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Scheduler{
		store:         cfg.Store,
		trainer:       cfg.Trainer,
		models:        cfg.Models,
		retention:     cfg.Retention,
		metrics:       cfg.Metrics,
		nr:            cfg.NewRelic,
		log:           cfg.Logger.With().Str("component", "retrain").Logger(),
		threshold:     cfg.Threshold,
		checkInterval: cfg.CheckInterval,
		pruneInterval: cfg.PruneInterval,
		now:           cfg.Now,
		notify:        make(chan struct{}, 1),
	}
}

// Notify asks Run for a threshold check. It never blocks; notifications
// that arrive while one is pending are coalesced.
func (s *Scheduler) Notify() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// ShouldRetrain reports whether the backlog has reached the threshold.
func (s *Scheduler) ShouldRetrain(ctx context.Context) (bool, error) {
	backlog, err := s.store.Backlog(ctx)
	if err != nil {
		return false, err
	}
	return backlog >= s.threshold, nil
}

// Retrain fits a model on the current store contents and installs it. The
// store is only locked while the snapshot is taken and while the backlog is
// reset; entries appended during the fit stay in the backlog.
func (s *Scheduler) Retrain(ctx context.Context) (ml.Model, error) {
	txn := s.nr.StartTransaction("retrain")
	defer txn.End()
	ctx = newrelic.NewContext(ctx, txn)

	start := s.now()
	model, err := s.retrain(ctx)
	s.metrics.Retrained(err == nil, s.now().Sub(start))
	if err != nil {
		txn.NoticeError(err)
	}
	return model, err
}

func (s *Scheduler) retrain(ctx context.Context) (ml.Model, error) {
	snap, err := s.store.Snapshot(ctx)
	if err != nil {
		return nil, &Error{Err: err}
	}
	samples := snap.Samples()
	log := s.log.With().Int("backlog", snap.Backlog).Int("samples", len(samples)).Logger()
	log.Info().Msg("retraining")

	seg := newrelic.FromContext(ctx).StartSegment("fit")
	model, err := s.trainer.Fit(ctx, samples)
	seg.End()
	if err != nil {
		return nil, &Error{Backlog: snap.Backlog, Err: err}
	}

	info, err := s.models.Replace(ctx, model, len(samples))
	if err != nil {
		return nil, &Error{Backlog: snap.Backlog, Err: err}
	}
	if err := s.store.MarkTrained(ctx, snap.Appended); err != nil {
		// the new model is live; the backlog will trigger one extra retrain
		return model, &Error{Backlog: snap.Backlog, Err: err}
	}
	log.Info().Stringer("version", info.Version).Msg("retrain complete")
	return model, nil
}

// Prune applies the retention policy as of now.
func (s *Scheduler) Prune(ctx context.Context, now time.Time) (logstore.PruneResult, error) {
	res, err := s.store.Prune(ctx, now, s.retention)
	if err != nil {
		return res, err
	}
	s.metrics.Pruned(res.Removed, res.Skipped)
	ev := s.log.Info()
	if res.Removed == 0 && !res.Skipped {
		ev = s.log.Debug()
	}
	ev.Int("removed", res.Removed).Int("remaining", res.Remaining).Bool("skipped", res.Skipped).Msg("prune")
	return res, nil
}

// Run checks the threshold on every notification and check tick, and
// prunes on every prune tick, until ctx is cancelled. Only one retrain runs
// at a time. Failures are logged and retried on the next check.
func (s *Scheduler) Run(ctx context.Context) error {
	check := time.NewTicker(s.checkInterval)
	defer check.Stop()
	prune := time.NewTicker(s.pruneInterval)
	defer prune.Stop()

	s.log.Info().Int("threshold", s.threshold).Dur("check_interval", s.checkInterval).Msg("scheduler started")
	s.check(ctx)
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("scheduler stopped")
			return nil
		case <-s.notify:
			s.check(ctx)
		case <-check.C:
			s.check(ctx)
		case <-prune.C:
			if _, err := s.Prune(ctx, s.now()); err != nil && ctx.Err() == nil {
				s.log.Error().Err(err).Msg("prune failed; retrying next interval")
			}
		}
	}
}

func (s *Scheduler) check(ctx context.Context) {
	s.observeStore(ctx)
	ok, err := s.ShouldRetrain(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.log.Error().Err(err).Msg("backlog check failed")
		}
		return
	}
	if !ok {
		return
	}
	if _, err := s.Retrain(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.log.Error().Err(err).Msg("retrain failed; backlog kept")
	}
	s.observeStore(ctx)
}

func (s *Scheduler) observeStore(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	n, err := s.store.Len(ctx)
	if err != nil {
		return
	}
	backlog, err := s.store.Backlog(ctx)
	if err != nil {
		return
	}
	s.metrics.StoreSize(n, backlog)
}
