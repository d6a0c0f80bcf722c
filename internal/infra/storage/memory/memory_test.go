package memory

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/vietddude/streamledger/internal/core/domain"
	"github.com/vietddude/streamledger/internal/infra/storage"
)

func TestWithinBlock_DiscardsOnError(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage(domain.ChainIDStacksDevnet)
	boom := errors.New("boom")

	err := store.WithinBlock(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.Streams().Insert(ctx, &domain.Stream{
			ID: 1, TotalAmount: big.NewInt(10), WithdrawnAmount: new(big.Int), StartBlock: 1, EndBlock: 2,
		}); err != nil {
			return err
		}
		if err := tx.Checkpoints().Append(ctx, &domain.Checkpoint{Height: 1, BlockHash: "0x01"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	if s, _ := store.Streams().Get(ctx, 1); s != nil {
		t.Error("stream from aborted unit of work is visible")
	}
	if cp, _ := store.Checkpoints().Latest(ctx); cp != nil {
		t.Error("checkpoint from aborted unit of work is visible")
	}
}

func TestWithinBlock_CancelledContext(t *testing.T) {
	store := NewMemoryStorage(domain.ChainIDStacksDevnet)
	ctx, cancel := context.WithCancel(context.Background())

	err := store.WithinBlock(ctx, func(ctx context.Context, tx storage.Tx) error {
		cancel()
		return tx.Checkpoints().Append(ctx, &domain.Checkpoint{Height: 1, BlockHash: "0x01"})
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if cp, _ := store.Checkpoints().Latest(context.Background()); cp != nil {
		t.Error("checkpoint committed after cancellation")
	}
}

func TestReadsReturnCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage(domain.ChainIDStacksDevnet)
	_ = store.Streams().Insert(ctx, &domain.Stream{
		ID: 1, TotalAmount: big.NewInt(10), WithdrawnAmount: new(big.Int), StartBlock: 1, EndBlock: 2,
	})

	s, _ := store.Streams().Get(ctx, 1)
	s.WithdrawnAmount.SetInt64(5)

	again, _ := store.Streams().Get(ctx, 1)
	if again.WithdrawnAmount.Sign() != 0 {
		t.Errorf("mutating a read leaked into the store: %s", again.WithdrawnAmount)
	}
}

func TestCheckpoints(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryStorage(domain.ChainIDStacksDevnet).Checkpoints()

	for h := uint64(10); h <= 14; h++ {
		if err := repo.Append(ctx, &domain.Checkpoint{Height: h, BlockHash: "h"}); err != nil {
			t.Fatalf("Append(%d) failed: %v", h, err)
		}
	}
	if err := repo.Append(ctx, &domain.Checkpoint{Height: 12}); err == nil {
		t.Error("expected duplicate height to fail")
	}

	above, _ := repo.ListAbove(ctx, 11)
	if len(above) != 3 || above[0].Height != 14 || above[2].Height != 12 {
		t.Errorf("unexpected ListAbove result: %+v", above)
	}

	if n, _ := repo.TruncateFrom(ctx, 13); n != 2 {
		t.Errorf("expected 2 truncated, got %d", n)
	}
	if n, _ := repo.PruneBelow(ctx, 11); n != 1 {
		t.Errorf("expected 1 pruned, got %d", n)
	}
	latest, _ := repo.Latest(ctx)
	if latest == nil || latest.Height != 12 {
		t.Errorf("expected latest 12, got %+v", latest)
	}
}

func TestOutbox(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryStorage(domain.ChainIDStacksDevnet).Outbox()

	for _, id := range []string{"a", "b", "c"} {
		_ = repo.Enqueue(ctx, &domain.OutboxEntry{ID: id, BlockHash: "0x01"})
	}
	_ = repo.MarkDelivered(ctx, "a", time.Now().Add(-time.Hour))
	_ = repo.MarkFailed(ctx, "b", "timeout")

	pending, _ := repo.Pending(ctx, storage.PendingFilter{Limit: 10})
	if len(pending) != 2 || pending[0].ID != "b" || pending[0].Attempts != 1 {
		t.Errorf("unexpected pending: %+v", pending)
	}

	if n, _ := repo.DeleteUndelivered(ctx, "0x01"); n != 2 {
		t.Errorf("expected 2 undelivered deleted, got %d", n)
	}
	if n, _ := repo.PruneDelivered(ctx, time.Now()); n != 1 {
		t.Errorf("expected 1 pruned, got %d", n)
	}
}

func TestWithinBlock_AbortRestoresChangedRows(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage(domain.ChainIDStacksDevnet)

	err := store.WithinBlock(ctx, func(ctx context.Context, tx storage.Tx) error {
		for _, id := range []uint64{1, 2} {
			if err := tx.Streams().Insert(ctx, &domain.Stream{
				ID: id, TotalAmount: big.NewInt(10), WithdrawnAmount: new(big.Int), StartBlock: 1, EndBlock: 2,
			}); err != nil {
				return err
			}
		}
		if err := tx.Events().RecordApplied(ctx, &domain.IngestedEvent{TxHash: "0xa", BlockHash: "0x01"}); err != nil {
			return err
		}
		for _, cp := range []domain.Checkpoint{{Height: 1, BlockHash: "0x01"}, {Height: 2, BlockHash: "0x02"}} {
			if err := tx.Checkpoints().Append(ctx, &cp); err != nil {
				return err
			}
		}
		return tx.Outbox().Enqueue(ctx, &domain.OutboxEntry{ID: "n1", BlockHash: "0x02", BlockHeight: 2})
	})
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	boom := errors.New("boom")
	err = store.WithinBlock(ctx, func(ctx context.Context, tx storage.Tx) error {
		s, _ := tx.Streams().Get(ctx, 1)
		s.WithdrawnAmount = big.NewInt(5)
		if err := tx.Streams().Update(ctx, s); err != nil {
			return err
		}
		if err := tx.Streams().Delete(ctx, 2); err != nil {
			return err
		}
		if _, err := tx.Events().Revoke(ctx, "0x01"); err != nil {
			return err
		}
		if _, err := tx.Checkpoints().TruncateFrom(ctx, 2); err != nil {
			return err
		}
		if _, err := tx.Outbox().DeleteUndelivered(ctx, "0x02"); err != nil {
			return err
		}
		if err := tx.Outbox().Enqueue(ctx, &domain.OutboxEntry{ID: "n2", BlockHash: "0x03", BlockHeight: 3}); err != nil {
			return err
		}
		if s, _ := tx.Streams().Get(ctx, 1); s.WithdrawnAmount.Int64() != 5 {
			t.Errorf("unit of work must see its own writes, got %s", s.WithdrawnAmount)
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	if s, _ := store.Streams().Get(ctx, 1); s == nil || s.WithdrawnAmount.Sign() != 0 {
		t.Errorf("update not undone: %+v", s)
	}
	if s, _ := store.Streams().Get(ctx, 2); s == nil {
		t.Error("delete not undone")
	}
	if ok, _ := store.Events().HasApplied(ctx, "0xa", 0); !ok {
		t.Error("revoke not undone")
	}
	if cp, _ := store.Checkpoints().Latest(ctx); cp == nil || cp.Height != 2 {
		t.Errorf("truncate not undone, latest %+v", cp)
	}
	pending, _ := store.Outbox().Pending(ctx, storage.PendingFilter{})
	if len(pending) != 1 || pending[0].ID != "n1" {
		t.Errorf("outbox not restored: %+v", pending)
	}

	// Sequence numbers handed out by the aborted unit are reused in order.
	if err := store.Outbox().Enqueue(ctx, &domain.OutboxEntry{ID: "n3", BlockHash: "0x03", BlockHeight: 3}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	pending, _ = store.Outbox().Pending(ctx, storage.PendingFilter{})
	if len(pending) != 2 || pending[0].ID != "n1" || pending[1].ID != "n3" {
		t.Errorf("unexpected outbox order: %+v", pending)
	}
}

func TestWithinBlock_PanicRestores(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage(domain.ChainIDStacksDevnet)

	func() {
		defer func() { _ = recover() }()
		_ = store.WithinBlock(ctx, func(ctx context.Context, tx storage.Tx) error {
			_ = tx.Checkpoints().Append(ctx, &domain.Checkpoint{Height: 1, BlockHash: "0x01"})
			panic("boom")
		})
	}()

	if cp, _ := store.Checkpoints().Latest(ctx); cp != nil {
		t.Error("checkpoint from a panicking unit of work is visible")
	}
}
