package domain

import "errors"

var (
	ErrUnknownEventType = errors.New("unknown event type")
	ErrMalformedPayload = errors.New("malformed payload")

	ErrStreamNotFound  = errors.New("stream not found")
	ErrStreamExists    = errors.New("stream already exists with different terms")
	ErrStreamCancelled = errors.New("stream is cancelled")
	ErrLedgerInvariant = errors.New("ledger invariant violated")

	// ErrReorgDetected is returned when a block does not extend the checkpointed chain.
	ErrReorgDetected = errors.New("unannounced reorg detected")
	// ErrBlockGap is returned when a block skips heights and gaps are not allowed.
	ErrBlockGap = errors.New("block gap detected")
	// ErrUnknownRollback is returned when a rollback targets a block below
	// checkpoints that were not rolled back with it.
	ErrUnknownRollback = errors.New("rollback does not match checkpointed chain")

	// ErrIdempotencyUnknown is returned when the idempotency ledger cannot be read.
	ErrIdempotencyUnknown = errors.New("idempotency state unknown")
)

// IsInconsistency reports whether err means the ledger and the delivered chain
// disagree. These need an operator and leave the checkpoint where it was.
func IsInconsistency(err error) bool {
	return errors.Is(err, ErrStreamNotFound) ||
		errors.Is(err, ErrStreamCancelled) ||
		errors.Is(err, ErrLedgerInvariant) ||
		errors.Is(err, ErrReorgDetected) ||
		errors.Is(err, ErrBlockGap) ||
		errors.Is(err, ErrUnknownRollback)
}

// FailureKindOf maps an ingest error to the kind stored in the failure log.
func FailureKindOf(err error) FailureKind {
	switch {
	case errors.Is(err, ErrReorgDetected), errors.Is(err, ErrUnknownRollback):
		return FailureKindReorg
	case errors.Is(err, ErrBlockGap):
		return FailureKindGap
	case IsInconsistency(err):
		return FailureKindInconsistency
	default:
		return FailureKindStorage
	}
}
