package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hydra-ops/hydra/internal/logstore"
	"github.com/hydra-ops/hydra/internal/model"
)

// LogRepository is a logstore.Store backed by PostgreSQL. Mutations lock the
// single log_store_state row, so they serialize the same way the in-process
// stores do.
type LogRepository struct {
	pool *pgxpool.Pool
}

// NewLogRepository returns a LogRepository using the given pool.
func NewLogRepository(pool *pgxpool.Pool) *LogRepository {
	return &LogRepository{pool: pool}
}

var entryColumns = []string{"ts", "level", "message", "request", "features", "label"}

func (r *LogRepository) Append(ctx context.Context, entries ...model.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := lockState(ctx, tx); err != nil {
			return err
		}
		_, err := tx.CopyFrom(ctx, pgx.Identifier{"log_entries"}, entryColumns,
			pgx.CopyFromSlice(len(entries), func(i int) ([]any, error) {
				e := entries[i]
				return []any{e.Timestamp.UTC(), string(e.Level), e.Message, e.Request, e.Features, e.Label}, nil
			}))
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `UPDATE log_store_state SET appended = appended + $1`, int64(len(entries)))
		return err
	})
	if err != nil {
		return &logstore.IOError{Op: "append", Err: err}
	}
	return nil
}

func (r *LogRepository) Len(ctx context.Context) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM log_entries`).Scan(&n); err != nil {
		return 0, &logstore.IOError{Op: "count", Err: err}
	}
	return n, nil
}

func (r *LogRepository) Backlog(ctx context.Context) (int, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, `SELECT appended - trained FROM log_store_state`).Scan(&n); err != nil {
		return 0, &logstore.IOError{Op: "backlog", Err: err}
	}
	return int(n), nil
}

func (r *LogRepository) Snapshot(ctx context.Context) (logstore.Snapshot, error) {
	var snap logstore.Snapshot
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		st, err := lockState(ctx, tx)
		if err != nil {
			return err
		}
		snap.Appended = uint64(st.appended)
		snap.Backlog = int(st.appended - st.trained)

		rows, err := tx.Query(ctx, `
			SELECT ts, level, message, request, features, label
			FROM log_entries
			ORDER BY id`)
		if err != nil {
			return err
		}
		snap.Entries, err = pgx.CollectRows(rows, scanEntry)
		return err
	})
	if err != nil {
		return logstore.Snapshot{}, &logstore.IOError{Op: "snapshot", Err: err}
	}
	return snap, nil
}

func scanEntry(row pgx.CollectableRow) (model.LogEntry, error) {
	var (
		e     model.LogEntry
		level string
	)
	if err := row.Scan(&e.Timestamp, &level, &e.Message, &e.Request, &e.Features, &e.Label); err != nil {
		return model.LogEntry{}, err
	}
	e.Timestamp = e.Timestamp.UTC()
	e.Level = model.Level(level)
	return e, nil
}

// Prune counts expired rows and deletes them in the same transaction, so a
// pass that would break the floor removes nothing.
func (r *LogRepository) Prune(ctx context.Context, now time.Time, policy logstore.Retention) (logstore.PruneResult, error) {
	cutoff := policy.Cutoff(now)
	var res logstore.PruneResult
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := lockState(ctx, tx); err != nil {
			return err
		}
		var total, expired int
		err := tx.QueryRow(ctx, `
			SELECT count(*), count(*) FILTER (WHERE ts < $1)
			FROM log_entries`, cutoff).Scan(&total, &expired)
		if err != nil {
			return err
		}
		res = policy.Decide(total, expired)
		if res.Removed == 0 {
			return nil
		}
		tag, err := tx.Exec(ctx, `DELETE FROM log_entries WHERE ts < $1`, cutoff)
		if err != nil {
			return err
		}
		if int(tag.RowsAffected()) != res.Removed {
			return fmt.Errorf("deleted %d rows, expected %d", tag.RowsAffected(), res.Removed)
		}
		return nil
	})
	if err != nil {
		return logstore.PruneResult{}, &logstore.IOError{Op: "prune", Err: err}
	}
	return res, nil
}

func (r *LogRepository) MarkTrained(ctx context.Context, appended uint64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE log_store_state
		SET trained = GREATEST(trained, LEAST($1, appended))`, int64(appended))
	if err != nil {
		return &logstore.IOError{Op: "mark trained", Err: err}
	}
	return nil
}

// Close is a no-op; the pool belongs to the caller.
func (r *LogRepository) Close() error { return nil }

type storeState struct {
	appended int64
	trained  int64
}

func lockState(ctx context.Context, tx pgx.Tx) (storeState, error) {
	var st storeState
	err := tx.QueryRow(ctx, `SELECT appended, trained FROM log_store_state FOR UPDATE`).Scan(&st.appended, &st.trained)
	return st, err
}
