package repository

import (
	"context"
	"fmt"

	"evm-public-client/internal/models"

	"github.com/jackc/pgx/v5"
)

// InsertLogs stores observed logs. Logs flagged removed delete their row instead.
func (r *Repository) InsertLogs(ctx context.Context, logs []models.ObservedLog) error {
	if len(logs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, l := range logs {
		if l.Removed {
			batch.Queue(`DELETE FROM observed_logs WHERE block_hash = $1 AND log_index = $2`,
				hexToBytes(l.BlockHash), int64(l.LogIndex))
			continue
		}
		batch.Queue(`
			INSERT INTO observed_logs (block_hash, log_index, block_number, tx_hash, tx_index, address, topics, data, removed, observed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, NOW())
			ON CONFLICT (block_hash, log_index) DO NOTHING`,
			hexToBytes(l.BlockHash), int64(l.LogIndex), l.BlockNumber, hexToBytes(l.TxHash), int64(l.TxIndex),
			hexToBytes(l.Address), l.Topics, hexToBytesOrNull(l.Data))
	}
	br := r.db.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < len(logs); i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert logs: %w", err)
		}
	}
	return nil
}

// LogsForBlock returns the logs recorded for a block number, in log order.
func (r *Repository) LogsForBlock(ctx context.Context, number uint64) ([]models.ObservedLog, error) {
	rows, err := r.db.Query(ctx, `
		SELECT block_number, '0x' || encode(block_hash, 'hex'), '0x' || encode(tx_hash, 'hex'),
		       tx_index, log_index, '0x' || encode(address, 'hex'), topics,
		       COALESCE(data, ''::bytea), removed, observed_at
		FROM observed_logs
		WHERE block_number = $1
		ORDER BY log_index`, number)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ObservedLog
	for rows.Next() {
		var (
			l              models.ObservedLog
			txIndex, index int64
			data           []byte
		)
		if err := rows.Scan(&l.BlockNumber, &l.BlockHash, &l.TxHash, &txIndex, &index, &l.Address,
			&l.Topics, &data, &l.Removed, &l.ObservedAt); err != nil {
			return nil, err
		}
		l.TxIndex, l.LogIndex = uint(txIndex), uint(index)
		l.Data = bytesToHex(data)
		if l.Data == "" {
			l.Data = "0x"
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
