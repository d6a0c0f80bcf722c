package storage

import (
	"context"
	"time"

	"github.com/vietddude/streamledger/internal/core/domain"
)

// Not-found lookups return (nil, nil) rather than an error.

// StreamRepository is the stream ledger: the replica of on-chain streams.
type StreamRepository interface {
	// Get retrieves a stream by id
	Get(ctx context.Context, id uint64) (*domain.Stream, error)

	// Insert creates a stream; it fails if the id is taken
	Insert(ctx context.Context, s *domain.Stream) error

	// Update overwrites the mutable fields of an existing stream
	Update(ctx context.Context, s *domain.Stream) error

	// Delete removes a stream (reorg compensation of its creation only)
	Delete(ctx context.Context, id uint64) error

	// ListByParty retrieves streams where address is sender or recipient
	ListByParty(ctx context.Context, address string) ([]*domain.Stream, error)

	// Count returns the number of streams
	Count(ctx context.Context) (int, error)
}

// EventRepository is the idempotency ledger of applied events.
type EventRepository interface {
	// HasApplied reports whether the event was already applied
	HasApplied(ctx context.Context, txHash string, eventIndex int) (bool, error)

	// RecordApplied stores the idempotency record
	RecordApplied(ctx context.Context, ev *domain.IngestedEvent) error

	// ListByBlock retrieves records of a block in application order
	ListByBlock(ctx context.Context, blockHash string) ([]*domain.IngestedEvent, error)

	// Revoke removes all records tied to a block
	Revoke(ctx context.Context, blockHash string) (int, error)
}

// CheckpointRepository tracks applied blocks.
type CheckpointRepository interface {
	// Latest retrieves the highest checkpoint
	Latest(ctx context.Context) (*domain.Checkpoint, error)

	// Get retrieves the checkpoint at a height
	Get(ctx context.Context, height uint64) (*domain.Checkpoint, error)

	// Append stores a checkpoint for a newly applied block
	Append(ctx context.Context, cp *domain.Checkpoint) error

	// TruncateFrom removes checkpoints at or above height
	TruncateFrom(ctx context.Context, height uint64) (int, error)

	// ListAbove retrieves checkpoints strictly above height, highest first
	ListAbove(ctx context.Context, height uint64) ([]*domain.Checkpoint, error)

	// PruneBelow removes checkpoints strictly below height
	PruneBelow(ctx context.Context, height uint64) (int, error)
}

// OutboxRepository queues notifications written alongside ledger mutations.
type OutboxRepository interface {
	// Enqueue stores a notification for later delivery
	Enqueue(ctx context.Context, e *domain.OutboxEntry) error

	// Pending retrieves undelivered entries matching the filter, oldest first
	Pending(ctx context.Context, f PendingFilter) ([]*domain.OutboxEntry, error)

	// ListByBlock retrieves all entries produced by a block
	ListByBlock(ctx context.Context, blockHash string) ([]*domain.OutboxEntry, error)

	// DeleteUndelivered drops undelivered entries produced by a block
	DeleteUndelivered(ctx context.Context, blockHash string) (int, error)

	// MarkDelivered records a successful delivery
	MarkDelivered(ctx context.Context, id string, at time.Time) error

	// MarkFailed increments the attempt count and stores the error
	MarkFailed(ctx context.Context, id string, errMsg string) error

	// PruneDelivered removes entries delivered before the given time
	PruneDelivered(ctx context.Context, before time.Time) (int, error)
}

// PendingFilter selects outbox entries that are ready for delivery.
type PendingFilter struct {
	Limit int
	// MaxAttempts excludes entries that failed this many times. 0 disables it.
	MaxAttempts int
	// MaxHeight excludes entries of blocks above it. 0 disables it.
	MaxHeight uint64
}

// FailureRepository is the operator-facing log of blocks that could not be applied.
type FailureRepository interface {
	// Record adds a failure or bumps the attempt count of a pending one for the same block
	Record(ctx context.Context, f *domain.IngestFailure) error

	// ResolveBlock marks pending failures of a block as resolved
	ResolveBlock(ctx context.Context, blockHash string) error

	// GetPending retrieves unresolved failures, newest first
	GetPending(ctx context.Context) ([]*domain.IngestFailure, error)

	// Count returns the number of unresolved failures
	Count(ctx context.Context) (int, error)
}

// Tx is one atomic unit of work. All mutations of a block go through a single Tx.
type Tx interface {
	Streams() StreamRepository
	Events() EventRepository
	Checkpoints() CheckpointRepository
	Outbox() OutboxRepository
}

// Store is the ledger of one chain. Its repositories outside a unit of work
// observe committed state only.
type Store interface {
	Tx

	Failures() FailureRepository

	// WithinBlock runs fn in one transaction. If fn returns an error, or ctx
	// ends before commit, nothing fn wrote is kept.
	WithinBlock(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	ChainID() domain.ChainID
	Health(ctx context.Context) error
	Close() error
}
