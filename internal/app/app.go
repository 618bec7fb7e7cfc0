// Package app assembles the pipeline from configuration and runs its
// long-lived components together.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hydra-ops/hydra/internal/config"
	"github.com/hydra-ops/hydra/internal/consumer"
	"github.com/hydra-ops/hydra/internal/cursor"
	"github.com/hydra-ops/hydra/internal/database"
	"github.com/hydra-ops/hydra/internal/handler"
	"github.com/hydra-ops/hydra/internal/infrastructure/streams"
	_ "github.com/hydra-ops/hydra/internal/infrastructure/streams/memstream"
	_ "github.com/hydra-ops/hydra/internal/infrastructure/streams/redisstream"
	"github.com/hydra-ops/hydra/internal/logstore"
	"github.com/hydra-ops/hydra/internal/metrics"
	"github.com/hydra-ops/hydra/internal/ml"
	"github.com/hydra-ops/hydra/internal/ml/centroid"
	"github.com/hydra-ops/hydra/internal/repository"
	"github.com/hydra-ops/hydra/internal/retrain"
	"github.com/hydra-ops/hydra/internal/server"
	"github.com/hydra-ops/hydra/internal/storage"
)

// App owns every component built from one Config.
type App struct {
	cfg      *config.Config
	log      zerolog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	nr       *newrelic.Application

	pool      *pgxpool.Pool
	stream    streams.Stream
	store     logstore.Store
	cursor    *cursor.Cursor
	models    *ml.Manager
	scheduler *retrain.Scheduler
	consumer  *consumer.Consumer
	server    *server.Server

	closers []func() error
}

// New builds the pipeline. Nothing is started; on error every resource
// already opened is released.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (_ *App, err error) {
	a := &App{cfg: cfg, log: log, registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.registry)

	if nrc := cfg.Observability.NewRelic; nrc.Enabled {
		a.nr, err = newrelic.NewApplication(
			newrelic.ConfigAppName(nrc.AppName),
			newrelic.ConfigLicense(nrc.LicenseKey),
			newrelic.ConfigEnabled(true),
		)
		if err != nil {
			return nil, fmt.Errorf("new relic: %w", err)
		}
		a.closers = append(a.closers, func() error { a.nr.Shutdown(5 * time.Second); return nil })
	}

	if cfg.Store.Backend == "postgres" || cfg.Cursor.Backend == "postgres" {
		if err := database.RunMigrations(ctx, cfg.Database.URL, log); err != nil {
			return nil, err
		}
		a.pool, err = database.NewPool(ctx, database.Options{
			URL:      cfg.Database.URL,
			MaxConns: cfg.Database.MaxConns,
			LogLevel: cfg.Observability.LogLevel,
			NewRelic: a.nr != nil,
		}, log)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { a.pool.Close(); return nil })
	}

	if a.stream, err = a.buildStream(); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.stream.Close)

	if a.store, err = a.buildStore(); err != nil {
		if errors.Is(err, logstore.ErrLocked) {
			return nil, fmt.Errorf("%w; stop the running hydra process before using this store", err)
		}
		return nil, err
	}
	a.closers = append(a.closers, a.store.Close)

	cursorStore, err := a.buildCursorStore()
	if err != nil {
		return nil, err
	}
	a.cursor = cursor.New(cursorStore)

	trainer := centroid.New()
	artifacts, err := a.buildArtifactStore(ctx)
	if err != nil {
		return nil, err
	}
	if a.models, err = ml.NewManager(trainer, artifacts, log); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error { a.models.Close(); return nil })

	a.scheduler = retrain.New(retrain.Config{
		Store:   a.store,
		Trainer: trainer,
		Models:  a.models,
		Retention: logstore.Retention{
			Window:      cfg.Store.RetentionWindow(),
			MinRetained: cfg.Store.MinRetained,
		},
		Metrics:       a.metrics,
		NewRelic:      a.nr,
		Logger:        log,
		Threshold:     cfg.Retrain.Threshold,
		CheckInterval: cfg.Retrain.CheckInterval,
		PruneInterval: cfg.Store.PruneInterval,
	})

	a.consumer = consumer.New(consumer.Config{
		Client:           a.stream,
		Cursor:           a.cursor,
		Store:            a.store,
		Notifier:         a.scheduler,
		Metrics:          a.metrics,
		Logger:           log,
		BatchSize:        cfg.Stream.BatchSize,
		BlockTimeout:     cfg.Stream.BlockTimeout,
		ReconnectBackoff: cfg.Stream.ReconnectBackoff,
	})

	a.server = server.New(server.Deps{
		Config: cfg,
		Logger: log,
		Predictions: &handler.PredictionHandler{
			Models:   a.models,
			Store:    a.store,
			Notifier: a.scheduler,
			Metrics:  a.metrics,
			Logger:   log,
		},
		Ingest:   &handler.IngestHandler{Publisher: a.stream},
		Gatherer: a.registry,
		NewRelic: a.nr,
	})
	return a, nil
}

func (a *App) buildStream() (streams.Stream, error) {
	sc := a.cfg.Stream
	s, err := streams.GlobalRegistry.Create(sc.Backend, streams.Config{
		"addr":     sc.Addr(),
		"password": sc.Password,
		"db":       sc.DB,
		"key":      sc.Key,
		"field":    sc.Field,
		"max_len":  sc.MaxLen,
	})
	if err != nil {
		return nil, fmt.Errorf("stream: %w", err)
	}
	return s, nil
}

func (a *App) buildStore() (logstore.Store, error) {
	switch a.cfg.Store.Backend {
	case "memory":
		return logstore.NewMemory(), nil
	case "postgres":
		return repository.NewLogRepository(a.pool), nil
	default:
		return logstore.OpenFile(a.cfg.Store.Path, a.log.With().Str("component", "logstore").Logger())
	}
}

func (a *App) buildCursorStore() (cursor.Store, error) {
	cc := a.cfg.Cursor
	switch cc.Backend {
	case "memory":
		return cursor.NewMemoryStore(), nil
	case "postgres":
		return repository.NewCursorRepository(a.pool, cc.Name), nil
	case "redis":
		sc := a.cfg.Stream
		rs := cursor.NewRedisStore(redis.NewClient(&redis.Options{
			Addr:     sc.Addr(),
			Password: sc.Password,
			DB:       sc.DB,
		}), sc.Key+":cursor:"+cc.Name)
		a.closers = append(a.closers, rs.Close)
		return rs, nil
	default:
		return cursor.NewFileStore(cc.Path), nil
	}
}

func (a *App) buildArtifactStore(ctx context.Context) (ml.ArtifactStore, error) {
	if a.cfg.Model.Backend != "o3" {
		return ml.NewFileArtifactStore(a.cfg.Model.Path), nil
	}
	o3, err := storage.NewO3ArtifactStore(a.cfg.Storage.O3, a.cfg.Model.ObjectKey)
	if err != nil {
		return nil, err
	}
	if err := o3.EnsureBucket(ctx); err != nil {
		a.log.Warn().Err(err).Msg("o3 bucket check failed; model saves may fail")
	}
	return o3, nil
}

// Run loads the model and then runs the consumer, the scheduler and the
// HTTP server until ctx is cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	if _, err := a.models.LoadOrTrain(ctx); err != nil {
		return fmt.Errorf("initial model: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.consumer.Run(ctx) })
	g.Go(func() error { return a.scheduler.Run(ctx) })
	g.Go(func() error { return a.server.Start(ctx) })
	return g.Wait()
}

// Retrain fits and installs a model now, regardless of the backlog.
func (a *App) Retrain(ctx context.Context) (ml.Info, error) {
	if _, err := a.models.LoadOrTrain(ctx); err != nil {
		return ml.Info{}, err
	}
	if _, err := a.scheduler.Retrain(ctx); err != nil {
		return ml.Info{}, err
	}
	info, _ := a.models.Info()
	return info, nil
}

// Prune applies the retention policy once.
func (a *App) Prune(ctx context.Context) (logstore.PruneResult, error) {
	return a.scheduler.Prune(ctx, time.Now())
}

// Publisher is the producer side of the configured stream.
func (a *App) Publisher() streams.Publisher {
	return a.stream
}

// Close releases resources in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
