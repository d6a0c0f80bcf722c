package reorg

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/vietddude/streamledger/internal/core/domain"
	"github.com/vietddude/streamledger/internal/infra/storage"
)

// Handler executes reorg compensation inside a unit of work.
type Handler struct {
	chainID domain.ChainID
	log     *slog.Logger
	now     func() time.Time
}

// RollbackResult contains the result of rolling back one block.
type RollbackResult struct {
	Height uint64
	Hash   string
	// Skipped is set when the block was not on the checkpointed chain and
	// nothing was changed, e.g. a redelivered rollback.
	Skipped bool
	// Reverted lists the undone events in the order they were undone.
	Reverted []*domain.IngestedEvent
	// Delivered lists notifications of the block that already went out.
	Delivered           []*domain.OutboxEntry
	DroppedNotices      int
	TruncatedCheckpoint int
	Duration            time.Duration
}

// Rollback undoes the block at height with the given hash. The block must be the
// checkpoint tip; rolling back beneath unrolled blocks would orphan their effects.
func (h *Handler) Rollback(
	ctx context.Context,
	tx storage.Tx,
	height uint64,
	hash string,
) (*RollbackResult, error) {
	start := h.now()
	result := &RollbackResult{Height: height, Hash: hash}

	cp, err := tx.Checkpoints().Get(ctx, height)
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint %d: %w", height, err)
	}
	events, err := tx.Events().ListByBlock(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to list events of block %s: %w", hash, err)
	}

	if cp == nil || cp.BlockHash != hash {
		if len(events) > 0 {
			return nil, fmt.Errorf("block %d (%s) has %d applied events but no checkpoint: %w",
				height, hash, len(events), domain.ErrUnknownRollback)
		}
		result.Skipped = true
		return result, nil
	}

	latest, err := tx.Checkpoints().Latest(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest checkpoint: %w", err)
	}
	if latest != nil && latest.Height > height {
		return nil, fmt.Errorf("block %d is below checkpoint tip %d (%s): %w",
			height, latest.Height, latest.BlockHash, domain.ErrUnknownRollback)
	}

	// Undo in reverse application order.
	for i := len(events) - 1; i >= 0; i-- {
		if err := h.revert(ctx, tx, events[i]); err != nil {
			return nil, err
		}
		result.Reverted = append(result.Reverted, events[i])
	}

	if _, err := tx.Events().Revoke(ctx, hash); err != nil {
		return nil, fmt.Errorf("failed to revoke events of block %s: %w", hash, err)
	}

	notices, err := tx.Outbox().ListByBlock(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications of block %s: %w", hash, err)
	}
	for _, n := range notices {
		if n.Delivered() {
			result.Delivered = append(result.Delivered, n)
		}
	}
	if result.DroppedNotices, err = tx.Outbox().DeleteUndelivered(ctx, hash); err != nil {
		return nil, fmt.Errorf("failed to drop notifications of block %s: %w", hash, err)
	}

	if result.TruncatedCheckpoint, err = tx.Checkpoints().TruncateFrom(ctx, height); err != nil {
		return nil, fmt.Errorf("failed to truncate checkpoints from %d: %w", height, err)
	}

	result.Duration = h.now().Sub(start)
	h.log.Debug("Block rolled back",
		"height", height,
		"hash", hash,
		"reverted", len(result.Reverted),
		"dropped_notices", result.DroppedNotices,
	)
	return result, nil
}

func (h *Handler) revert(ctx context.Context, tx storage.Tx, ev *domain.IngestedEvent) error {
	streams := tx.Streams()

	if ev.EventType == domain.EventTypeStreamCreated {
		if err := streams.Delete(ctx, ev.StreamID); err != nil {
			return fmt.Errorf("failed to delete stream %d: %w", ev.StreamID, err)
		}
		return nil
	}

	s, err := streams.Get(ctx, ev.StreamID)
	if err != nil {
		return fmt.Errorf("failed to get stream %d: %w", ev.StreamID, err)
	}
	if s == nil {
		return fmt.Errorf("reverting %s of stream %d: %w", ev.EventType, ev.StreamID, domain.ErrStreamNotFound)
	}

	switch ev.EventType {
	case domain.EventTypeStreamWithdrawal:
		amount := ev.Amount
		if amount == nil {
			amount = new(big.Int)
		}
		s.WithdrawnAmount = new(big.Int).Sub(s.WithdrawnAmount, amount)
		if s.WithdrawnAmount.Sign() < 0 {
			return fmt.Errorf("reverting withdrawal %s#%d leaves stream %d negative: %w",
				ev.TxHash, ev.EventIndex, s.ID, domain.ErrLedgerInvariant)
		}
	case domain.EventTypeStreamCancelled:
		s.Cancelled = false
		s.CancelledAtBlock = nil
	default:
		return fmt.Errorf("cannot revert event type %q", ev.EventType)
	}

	if err := streams.Update(ctx, s); err != nil {
		return fmt.Errorf("failed to update stream %d: %w", s.ID, err)
	}
	return nil
}
