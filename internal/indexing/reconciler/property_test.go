package reconciler

import (
	"context"
	"fmt"
	"testing"

	"pgregory.net/rapid"

	"github.com/vietddude/streamledger/internal/core/domain"
	"github.com/vietddude/streamledger/internal/indexing/decoder"
	"github.com/vietddude/streamledger/internal/infra/storage/memory"
)

const propStreams = 3

type ledgerState struct {
	streams map[uint64]*domain.Stream
	applied map[string]bool
	tip     *domain.Checkpoint
}

func captureState(t *rapid.T, store *memory.MemoryStorage, keys []string) ledgerState {
	ctx := context.Background()
	st := ledgerState{streams: make(map[uint64]*domain.Stream), applied: make(map[string]bool)}
	for id := uint64(1); id <= propStreams; id++ {
		s, err := store.Streams().Get(ctx, id)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		st.streams[id] = s
	}
	for _, k := range keys {
		ok, err := store.Events().HasApplied(ctx, k, 0)
		if err != nil {
			t.Fatalf("HasApplied failed: %v", err)
		}
		st.applied[k] = ok
	}
	tip, err := store.Checkpoints().Latest(ctx)
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	st.tip = tip
	return st
}

func (a ledgerState) equal(b ledgerState) error {
	for id, s := range a.streams {
		if !s.Equal(b.streams[id]) {
			return fmt.Errorf("stream %d: %+v != %+v", id, s, b.streams[id])
		}
	}
	for k, v := range a.applied {
		if b.applied[k] != v {
			return fmt.Errorf("applied %s: %v != %v", k, v, b.applied[k])
		}
	}
	if (a.tip == nil) != (b.tip == nil) || (a.tip != nil && (a.tip.Height != b.tip.Height || a.tip.BlockHash != b.tip.BlockHash)) {
		return fmt.Errorf("tip: %+v != %+v", a.tip, b.tip)
	}
	return nil
}

// genBlocks draws a chain of valid blocks on top of the genesis block created
// by genesisBlock. It returns the blocks and every transaction hash used.
func genBlocks(t *rapid.T) ([]domain.Block, []string) {
	withdrawn := make(map[uint64]uint64)
	isCancelled := make(map[uint64]bool)

	n := rapid.IntRange(1, 6).Draw(t, "blocks")
	blocks := make([]domain.Block, 0, n)
	var keys []string
	parent := "0xg"
	for h := 0; h < n; h++ {
		height := uint64(101 + h)
		hash := fmt.Sprintf("0xb%d", height)

		var txs []domain.Transaction
		for i, m := 0, rapid.IntRange(0, 3).Draw(t, "txs"); i < m; i++ {
			id := rapid.Uint64Range(1, propStreams).Draw(t, "stream")
			txHash := fmt.Sprintf("0xt%d_%d", height, i)
			if isCancelled[id] {
				continue
			}
			if rapid.IntRange(0, 4).Draw(t, "kind") == 0 {
				isCancelled[id] = true
				txs = append(txs, txn(txHash, true, cancelled(id, height)))
			} else {
				amount := rapid.Uint64Range(0, 100).Draw(t, "amount")
				if withdrawn[id]+amount > 1000 {
					continue
				}
				withdrawn[id] += amount
				txs = append(txs, txn(txHash, true, withdrawal(id, amount)))
			}
			keys = append(keys, txHash)
		}

		blocks = append(blocks, block(height, hash, parent, txs...))
		parent = hash
	}
	return blocks, keys
}

func genesisBlock() domain.Block {
	var txs []domain.Transaction
	for id := uint64(1); id <= propStreams; id++ {
		txs = append(txs, txn(fmt.Sprintf("0xc%d", id), true, created(id, alice, bob, 1000, 100, 200)))
	}
	return block(100, "0xg", "0xpre", txs...)
}

func TestProperty_RollbackInverse(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		store := memory.NewMemoryStorage(domain.ChainIDStacksDevnet)
		r := New(store, decoder.New(nil), Config{})
		ctx := context.Background()

		if _, err := r.Ingest(ctx, payload([]domain.Block{genesisBlock()}, nil)); err != nil {
			t.Fatalf("genesis failed: %v", err)
		}

		blocks, keys := genBlocks(t)
		before := captureState(t, store, keys)

		if _, err := r.Ingest(ctx, payload(blocks, nil)); err != nil {
			t.Fatalf("apply failed: %v", err)
		}
		if _, err := r.Ingest(ctx, payload(nil, blocks)); err != nil {
			t.Fatalf("rollback failed: %v", err)
		}

		if err := before.equal(captureState(t, store, keys)); err != nil {
			t.Fatalf("rollback did not restore the ledger: %v", err)
		}
	})
}

func TestProperty_IdempotentReplay(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		store := memory.NewMemoryStorage(domain.ChainIDStacksDevnet)
		r := New(store, decoder.New(nil), Config{})
		ctx := context.Background()

		blocks, keys := genBlocks(t)
		p := payload(append([]domain.Block{genesisBlock()}, blocks...), nil)

		if _, err := r.Ingest(ctx, p); err != nil {
			t.Fatalf("first delivery failed: %v", err)
		}
		once := captureState(t, store, keys)

		res, err := r.Ingest(ctx, p)
		if err != nil {
			t.Fatalf("redelivery failed: %v", err)
		}
		if res.Applied != 0 || res.Events != 0 {
			t.Fatalf("redelivery applied %d blocks, %d events", res.Applied, res.Events)
		}
		if err := once.equal(captureState(t, store, keys)); err != nil {
			t.Fatalf("redelivery changed the ledger: %v", err)
		}

		for id := uint64(1); id <= propStreams; id++ {
			s, _ := store.Streams().Get(ctx, id)
			if s.WithdrawnAmount.Cmp(s.TotalAmount) > 0 {
				t.Fatalf("stream %d withdrawn %s exceeds total %s", id, s.WithdrawnAmount, s.TotalAmount)
			}
		}
	})
}
