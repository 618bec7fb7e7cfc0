// Package database opens the PostgreSQL pool used by the repository
// backends and keeps its schema migrated.
package database

import (
	"context"
	"embed"
	"fmt"
	"io/fs"

	pgxzero "github.com/jackc/pgx-zerolog"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/multitracer"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/tracelog"
	"github.com/jackc/tern/v2/migrate"
	"github.com/newrelic/go-agent/v3/integrations/nrpgx5"
	"github.com/rs/zerolog"
)

const versionTable = "schema_version"

//go:embed migrations/*.sql
var migrations embed.FS

type Options struct {
	URL      string
	MaxConns int32
	// LogLevel is the pgx log level name, e.g. "warn" or "debug".
	LogLevel string
	NewRelic bool
}

// NewPool connects to the database and verifies the connection. Queries are
// logged through zerolog and, when enabled, traced as New Relic datastore
// segments.
func NewPool(ctx context.Context, opts Options, log zerolog.Logger) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}

	level, err := tracelog.LogLevelFromString(opts.LogLevel)
	if err != nil {
		level = tracelog.LogLevelWarn
	}
	tracers := []pgx.QueryTracer{&tracelog.TraceLog{
		Logger:   pgxzero.NewLogger(log.With().Str("component", "pgx").Logger()),
		LogLevel: level,
	}}
	if opts.NewRelic {
		tracers = append(tracers, nrpgx5.NewTracer())
	}
	cfg.ConnConfig.Tracer = multitracer.New(tracers...)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// RunMigrations applies every embedded migration not yet recorded in the
// version table.
func RunMigrations(ctx context.Context, url string, log zerolog.Logger) error {
	conn, err := pgx.Connect(ctx, url)
	if err != nil {
		return fmt.Errorf("connect for migrations: %w", err)
	}
	defer conn.Close(ctx)

	m, err := migrate.NewMigrator(ctx, conn, versionTable)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	sub, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	if err := m.LoadMigrations(sub); err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	from, err := m.GetCurrentVersion(ctx)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if err := m.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	to, err := m.GetCurrentVersion(ctx)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if to != from {
		log.Info().Int32("from", from).Int32("to", to).Msg("database migrated")
	}
	return nil
}
