package worker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/vietddude/streamledger/internal/core/domain"
	"github.com/vietddude/streamledger/internal/infra/storage"
	"github.com/vietddude/streamledger/internal/infra/storage/memory"
)

func TestPruner_Prune(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStorage(domain.ChainIDStacksDevnet)
	for h := uint64(1); h <= 20; h++ {
		if err := store.Checkpoints().Append(ctx, &domain.Checkpoint{Height: h, BlockHash: fmt.Sprintf("0x%d", h)}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	now := time.Now()
	old := now.Add(-48 * time.Hour)
	store.Outbox().Enqueue(ctx, &domain.OutboxEntry{ID: "old", BlockHeight: 1})
	store.Outbox().Enqueue(ctx, &domain.OutboxEntry{ID: "fresh", BlockHeight: 2})
	store.Outbox().Enqueue(ctx, &domain.OutboxEntry{ID: "pending", BlockHeight: 3})
	store.Outbox().MarkDelivered(ctx, "old", old)
	store.Outbox().MarkDelivered(ctx, "fresh", now)

	p := NewPruner(PrunerConfig{RetentionBlocks: 5, OutboxRetention: 24 * time.Hour}, store)
	p.now = func() time.Time { return now }
	p.Prune(ctx)

	if cp, _ := store.Checkpoints().Get(ctx, 14); cp != nil {
		t.Error("expected checkpoint 14 pruned")
	}
	if cp, _ := store.Checkpoints().Get(ctx, 15); cp == nil {
		t.Error("expected checkpoint 15 kept")
	}
	if cp, _ := store.Checkpoints().Latest(ctx); cp == nil || cp.Height != 20 {
		t.Errorf("expected tip 20, got %+v", cp)
	}

	if entries, _ := store.Outbox().ListByBlock(ctx, ""); len(entries) != 2 {
		t.Errorf("expected 2 outbox entries left, got %d", len(entries))
	}
	pending, _ := store.Outbox().Pending(ctx, storage.PendingFilter{})
	if len(pending) != 1 || pending[0].ID != "pending" {
		t.Errorf("pending entry affected by pruning: %+v", pending)
	}
}

func TestPruner_DisabledReturnsImmediately(t *testing.T) {
	p := NewPruner(PrunerConfig{}, memory.NewMemoryStorage(domain.ChainIDStacksDevnet))
	done := make(chan struct{})
	go func() {
		p.Start(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled pruner did not return")
	}
}
