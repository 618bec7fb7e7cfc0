package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hydra-ops/hydra/internal/cursor"
	"github.com/hydra-ops/hydra/internal/infrastructure/streams"
)

// CursorRepository is a cursor.Store keeping one named row per consumer.
type CursorRepository struct {
	pool *pgxpool.Pool
	name string
}

// NewCursorRepository returns a CursorRepository for the consumer called name.
func NewCursorRepository(pool *pgxpool.Pool, name string) *CursorRepository {
	return &CursorRepository{pool: pool, name: name}
}

func (r *CursorRepository) Load(ctx context.Context) (streams.ID, bool, error) {
	var raw string
	err := r.pool.QueryRow(ctx, `SELECT last_id FROM stream_cursors WHERE name = $1`, r.name).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return streams.ID{}, false, nil
		}
		return streams.ID{}, false, fmt.Errorf("load cursor %q: %w", r.name, err)
	}
	id, err := streams.ParseID(raw)
	if err != nil {
		return streams.ID{}, false, &cursor.CorruptError{Source: "stream_cursors." + r.name, Err: err}
	}
	return id, true, nil
}

func (r *CursorRepository) Save(ctx context.Context, id streams.ID) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO stream_cursors (name, last_id, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE SET last_id = EXCLUDED.last_id, updated_at = EXCLUDED.updated_at`,
		r.name, id.String())
	if err != nil {
		return fmt.Errorf("save cursor %q: %w", r.name, err)
	}
	return nil
}
