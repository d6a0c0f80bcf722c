package domain

import "time"

// IngestFailure records a block that could not be applied and needs attention.
type IngestFailure struct {
	ID          string        `json:"id"`
	ChainID     ChainID       `json:"chain_id"`
	Height      uint64        `json:"height"`
	BlockHash   string        `json:"block_hash"`
	Kind        FailureKind   `json:"kind"`
	Error       string        `json:"error_msg"`
	Attempts    int           `json:"attempts"`
	Status      FailureStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	LastAttempt time.Time     `json:"last_attempt"`
}

type FailureStatus string

const (
	FailureStatusPending  FailureStatus = "pending"
	FailureStatusResolved FailureStatus = "resolved"
)

type FailureKind string

const (
	FailureKindInconsistency FailureKind = "inconsistency"
	FailureKindReorg         FailureKind = "reorg"
	FailureKindGap           FailureKind = "gap"
	FailureKindStorage       FailureKind = "storage"
)
