package reconciler

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/vietddude/streamledger/internal/core/domain"
	"github.com/vietddude/streamledger/internal/indexing/decoder"
	"github.com/vietddude/streamledger/internal/infra/storage/memory"
)

func newTestReconciler(t *testing.T, opts ...Option) (*Reconciler, *memory.MemoryStorage) {
	t.Helper()
	store := memory.NewMemoryStorage(domain.ChainIDStacksDevnet)
	return New(store, decoder.New(nil), Config{AllowGaps: true}, opts...), store
}

func event(fields map[string]any) json.RawMessage {
	raw, err := json.Marshal(fields)
	if err != nil {
		panic(err)
	}
	return raw
}

func created(id uint64, sender, recipient string, amount, start, end uint64) json.RawMessage {
	return event(map[string]any{
		"event":       "stream-created",
		"stream-id":   id,
		"sender":      sender,
		"recipient":   recipient,
		"amount":      amount,
		"start-block": start,
		"end-block":   end,
	})
}

func withdrawal(id, amount uint64) json.RawMessage {
	return event(map[string]any{"event": "stream-withdrawal", "stream-id": id, "amount": amount})
}

func cancelled(id, at uint64) json.RawMessage {
	return event(map[string]any{"event": "stream-cancelled", "stream-id": id, "cancelled-at-block": at})
}

func txn(hash string, success bool, events ...json.RawMessage) domain.Transaction {
	return domain.Transaction{
		TransactionIdentifier: domain.TransactionIdentifier{Hash: hash},
		Metadata:              domain.TransactionMetadata{Success: success, Events: events},
	}
}

func block(height uint64, hash, parent string, txs ...domain.Transaction) domain.Block {
	return domain.Block{
		BlockIdentifier:       domain.BlockIdentifier{Index: height, Hash: hash},
		ParentBlockIdentifier: domain.BlockIdentifier{Index: height - 1, Hash: parent},
		Transactions:          txs,
	}
}

func payload(apply []domain.Block, rollback []domain.Block) *domain.Payload {
	return &domain.Payload{
		Apply:     apply,
		Rollback:  rollback,
		Chainhook: &domain.ChainhookInfo{UUID: "hook-1"},
	}
}

func mustIngest(t *testing.T, r *Reconciler, p *domain.Payload) *Result {
	t.Helper()
	res, err := r.Ingest(context.Background(), p)
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	return res
}

func mustStream(t *testing.T, store *memory.MemoryStorage, id uint64) *domain.Stream {
	t.Helper()
	s, err := store.Streams().Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if s == nil {
		t.Fatalf("stream %d not found", id)
	}
	return s
}
