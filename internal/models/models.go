package models

import "time"

// ObservedBlock represents the 'observed_blocks' table
type ObservedBlock struct {
	Number        uint64    `json:"number"`
	Hash          string    `json:"hash"`
	ParentHash    string    `json:"parent_hash"`
	Timestamp     time.Time `json:"timestamp"`
	Miner         string    `json:"miner,omitempty"`
	GasUsed       uint64    `json:"gas_used"`
	GasLimit      uint64    `json:"gas_limit"`
	BaseFeePerGas string    `json:"base_fee_per_gas,omitempty"` // NUMERIC, decimal wei
	TxCount       int       `json:"tx_count"`
	ObservedAt    time.Time `json:"observed_at"`
}

// ObservedLog represents the 'observed_logs' table
type ObservedLog struct {
	BlockNumber uint64    `json:"block_number"`
	BlockHash   string    `json:"block_hash"`
	TxHash      string    `json:"tx_hash"`
	TxIndex     uint      `json:"tx_index"`
	LogIndex    uint      `json:"log_index"`
	Address     string    `json:"address"`
	Topics      []string  `json:"topics"` // Stored as TEXT[]
	Data        string    `json:"data"`   // 0x-prefixed hex
	Removed     bool      `json:"removed"`
	ObservedAt  time.Time `json:"observed_at"`
}

// Checkpoint represents the 'watch_checkpoints' table
type Checkpoint struct {
	Name        string    `json:"name"`
	BlockNumber uint64    `json:"block_number"`
	UpdatedAt   time.Time `json:"updated_at"`
}
