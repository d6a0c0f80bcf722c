// Package reorg keeps the ledger on the chain the upstream indexer reports.
//
// # Detection
//
// Every checkpoint stores the block hash and its parent hash. A block extends the
// ledger only when its parent hash equals the hash of the latest checkpoint:
//   - same height, same hash: already applied, skip
//   - same height, different hash: unannounced reorg, refuse
//   - next height, parent mismatch: unannounced reorg, refuse
//   - skipped heights: gap, refused unless gaps are allowed
//
// Refusals never guess a fork point. An operator rewinds the ledger and the
// upstream indexer redelivers the canonical chain.
//
// # Compensation
//
// Rolling back a block undoes its events in reverse order, revokes their
// idempotency records, drops its undelivered notifications and truncates the
// checkpoint chain at its height:
//
//	withdrawal -> withdrawn amount decremented
//	cancel     -> cancellation cleared
//	create     -> stream deleted
//
// # Usage
//
//	detector := reorg.NewDetector(reorg.Config{GenesisHeight: 100})
//	handler := reorg.NewHandler(chainID)
//
//	err := store.WithinBlock(ctx, func(ctx context.Context, tx storage.Tx) error {
//	    verdict, err := detector.Check(ctx, tx.Checkpoints(), block)
//	    ...
//	    result, err := handler.Rollback(ctx, tx, height, hash)
//	})
package reorg

import (
	"log/slog"
	"time"

	"github.com/vietddude/streamledger/internal/core/domain"
)

// Config holds configuration for continuity checks.
type Config struct {
	GenesisHeight uint64
	// AllowGaps accepts blocks that skip heights. Chainhook predicates that only
	// deliver matching blocks need this.
	AllowGaps bool
	// RetentionBlocks is the checkpoint window. Blocks further below the tip
	// are final and redeliveries of them are ignored. 0 disables the window.
	RetentionBlocks uint64
}

// NewDetector creates a new continuity detector.
func NewDetector(config Config) *Detector {
	return &Detector{config: config}
}

// NewHandler creates a new compensation handler.
func NewHandler(chainID domain.ChainID) *Handler {
	return &Handler{
		chainID: chainID,
		log:     slog.Default().With("component", "reorg", "chain", chainID),
		now:     time.Now,
	}
}
