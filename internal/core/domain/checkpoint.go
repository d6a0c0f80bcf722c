package domain

import "time"

// Checkpoint records one fully applied block.
type Checkpoint struct {
	ChainID         ChainID
	Height          uint64
	BlockHash       string
	ParentBlockHash string
	ProcessedAt     time.Time
}
