package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// GetCheckpoint returns the last block recorded by a watcher, or 0 when it
// has never run.
func (r *Repository) GetCheckpoint(ctx context.Context, name string) (uint64, error) {
	var number uint64
	err := r.db.QueryRow(ctx, "SELECT block_number FROM watch_checkpoints WHERE name = $1", name).Scan(&number)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return number, nil
}

// SaveCheckpoint records the last block handled by a watcher.
func (r *Repository) SaveCheckpoint(ctx context.Context, name string, number uint64) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO watch_checkpoints (name, block_number, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE SET
			block_number = EXCLUDED.block_number,
			updated_at = NOW()`, name, number)
	return err
}
