package reconciler

import (
	"context"
	"fmt"

	"github.com/vietddude/streamledger/internal/core/domain"
	"github.com/vietddude/streamledger/internal/indexing/emitter"
	"github.com/vietddude/streamledger/internal/indexing/metrics"
	"github.com/vietddude/streamledger/internal/indexing/reorg"
	"github.com/vietddude/streamledger/internal/infra/storage"
)

// rollbackBlock compensates one block in a single unit of work. It reports
// false when the block was not on the checkpointed chain.
func (r *Reconciler) rollbackBlock(ctx context.Context, height uint64, hash string) (bool, error) {
	start := r.now()
	var result *reorg.RollbackResult

	err := r.store.WithinBlock(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		result, err = r.handler.Rollback(ctx, tx, height, hash)
		if err != nil {
			return err
		}

		// Users already told about the block hear that it no longer applies.
		// Revert notices belong to no block so later rollbacks keep them.
		for _, delivered := range result.Delivered {
			n := emitter.ForRevert(delivered)
			err := tx.Outbox().Enqueue(ctx, &domain.OutboxEntry{
				ID:           n.ID,
				Notification: n,
				CreatedAt:    r.now(),
			})
			if err != nil {
				return fmt.Errorf("failed to queue revert notice: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		r.recordFailure(ctx, height, hash, err)
		return false, err
	}

	if result.Skipped {
		r.log.Info("Rollback of unknown block ignored", "height", height, "hash", hash)
		return false, nil
	}

	metrics.BlocksRolledBack.WithLabelValues(r.chain).Inc()
	metrics.BlockApplyLatency.WithLabelValues(r.chain, "rollback").Observe(r.now().Sub(start).Seconds())
	if cp, err := r.store.Checkpoints().Latest(ctx); err == nil {
		var tip uint64
		if cp != nil {
			tip = cp.Height
		}
		metrics.CheckpointHeight.WithLabelValues(r.chain).Set(float64(tip))
	}
	r.log.Warn("Block rolled back",
		"height", height,
		"hash", hash,
		"events", len(result.Reverted),
		"revert_notices", len(result.Delivered),
	)
	return true, nil
}
