package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/streamledger/internal/infra/storage"
)

// PrunerConfig holds retention settings.
type PrunerConfig struct {
	// RetentionBlocks is how many checkpoints below the tip are kept for
	// rollbacks. 0 keeps all.
	RetentionBlocks uint64
	// OutboxRetention is how long delivered notifications are kept. 0 keeps all.
	OutboxRetention time.Duration
	Interval        time.Duration
}

// Pruner deletes old data based on retention policy. Stream rows and
// idempotency records are never pruned.
type Pruner struct {
	cfg   PrunerConfig
	store storage.Store
	log   *slog.Logger
	now   func() time.Time
}

// NewPruner creates a new Pruner worker.
func NewPruner(cfg PrunerConfig, store storage.Store) *Pruner {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	return &Pruner{
		cfg:   cfg,
		store: store,
		log:   slog.Default().With("component", "pruner", "chain", store.ChainID()),
		now:   time.Now,
	}
}

// Start runs the pruner loop.
func (p *Pruner) Start(ctx context.Context) error {
	if p.cfg.RetentionBlocks == 0 && p.cfg.OutboxRetention <= 0 {
		return nil // Retention disabled
	}

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	// Initial prune
	p.Prune(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.Prune(ctx)
		}
	}
}

// Prune runs one retention pass.
func (p *Pruner) Prune(ctx context.Context) {
	if p.cfg.RetentionBlocks > 0 {
		latest, err := p.store.Checkpoints().Latest(ctx)
		if err != nil {
			p.log.Error("Failed to get latest checkpoint", "error", err)
		} else if latest != nil && latest.Height > p.cfg.RetentionBlocks {
			below := latest.Height - p.cfg.RetentionBlocks
			n, err := p.store.Checkpoints().PruneBelow(ctx, below)
			if err != nil {
				p.log.Error("Failed to prune checkpoints", "below", below, "error", err)
			} else if n > 0 {
				p.log.Info("Pruned checkpoints", "below", below, "count", n)
			}
		}
	}

	if p.cfg.OutboxRetention > 0 {
		before := p.now().Add(-p.cfg.OutboxRetention)
		n, err := p.store.Outbox().PruneDelivered(ctx, before)
		if err != nil {
			p.log.Error("Failed to prune outbox", "error", err)
		} else if n > 0 {
			p.log.Info("Pruned delivered notifications", "count", n)
		}
	}
}
