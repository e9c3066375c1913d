package repository

import (
	"context"
	"errors"
	"fmt"

	"evm-public-client/internal/models"

	"github.com/jackc/pgx/v5"
)

// UpsertBlocks stores observed blocks. A block replacing a different hash at
// the same number (a reorg) drops the logs recorded for the old block.
func (r *Repository) UpsertBlocks(ctx context.Context, blocks []models.ObservedBlock) error {
	if len(blocks) == 0 {
		return nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, b := range blocks {
		hash := hexToBytes(b.Hash)
		batch.Queue(`DELETE FROM observed_logs WHERE block_number = $1 AND block_hash <> $2`, b.Number, hash)
		batch.Queue(`
			INSERT INTO observed_blocks (number, hash, parent_hash, timestamp, miner, gas_used, gas_limit, base_fee_per_gas, tx_count, observed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8::text::numeric, $9, NOW())
			ON CONFLICT (number) DO UPDATE SET
				hash = EXCLUDED.hash,
				parent_hash = EXCLUDED.parent_hash,
				timestamp = EXCLUDED.timestamp,
				miner = EXCLUDED.miner,
				gas_used = EXCLUDED.gas_used,
				gas_limit = EXCLUDED.gas_limit,
				base_fee_per_gas = EXCLUDED.base_fee_per_gas,
				tx_count = EXCLUDED.tx_count,
				observed_at = NOW()`,
			b.Number, hash, hexToBytes(b.ParentHash), b.Timestamp, hexToBytesOrNull(b.Miner),
			int64(b.GasUsed), int64(b.GasLimit), nullIfEmpty(b.BaseFeePerGas), b.TxCount)
	}
	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("upsert blocks: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("upsert blocks: %w", err)
	}
	return tx.Commit(ctx)
}

const blockColumns = `number, '0x' || encode(hash, 'hex'), '0x' || encode(parent_hash, 'hex'), timestamp,
	COALESCE('0x' || encode(miner, 'hex'), ''), gas_used, gas_limit,
	COALESCE(base_fee_per_gas::text, ''), tx_count, observed_at`

func scanBlock(row pgx.Row) (models.ObservedBlock, error) {
	var b models.ObservedBlock
	err := row.Scan(&b.Number, &b.Hash, &b.ParentHash, &b.Timestamp, &b.Miner,
		&b.GasUsed, &b.GasLimit, &b.BaseFeePerGas, &b.TxCount, &b.ObservedAt)
	return b, err
}

// LatestBlocks returns up to limit observed blocks, newest first.
func (r *Repository) LatestBlocks(ctx context.Context, limit int) ([]models.ObservedBlock, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.Query(ctx, `SELECT `+blockColumns+` FROM observed_blocks ORDER BY number DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ObservedBlock
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// GetObservedBlock returns the stored block at number, or nil when none was recorded.
func (r *Repository) GetObservedBlock(ctx context.Context, number uint64) (*models.ObservedBlock, error) {
	b, err := scanBlock(r.db.QueryRow(ctx, `SELECT `+blockColumns+` FROM observed_blocks WHERE number = $1`, number))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}
