package repository

import (
	"context"
	"fmt"
	"log"
)

// RollbackFromNumber deletes blocks and logs at or above number and clamps
// every checkpoint to number-1. Checkpoints already below it keep their value.
func (r *Repository) RollbackFromNumber(ctx context.Context, number uint64) error {
	checkpoint := uint64(0)
	if number > 0 {
		checkpoint = number - 1
	}

	log.Printf("[rollback] Rolling back from block %d (checkpoints clamped to %d)", number, checkpoint)

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, "DELETE FROM observed_logs WHERE block_number >= $1", number)
	if err != nil {
		return fmt.Errorf("rollback observed_logs: %w", err)
	}
	logs := tag.RowsAffected()

	tag, err = tx.Exec(ctx, "DELETE FROM observed_blocks WHERE number >= $1", number)
	if err != nil {
		return fmt.Errorf("rollback observed_blocks: %w", err)
	}
	blocks := tag.RowsAffected()

	if _, err := tx.Exec(ctx, `
		UPDATE watch_checkpoints
		SET block_number = LEAST(block_number, $1), updated_at = NOW()
		WHERE block_number > $1`, checkpoint); err != nil {
		return fmt.Errorf("rollback checkpoints: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	log.Printf("[rollback] Removed %d blocks and %d logs", blocks, logs)
	return nil
}
