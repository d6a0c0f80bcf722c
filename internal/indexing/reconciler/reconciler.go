// Package reconciler applies chainhook deliveries to the stream ledger.
//
// Each delivery is handled under a per-chain lock. Rollback blocks are undone
// highest first, then apply blocks are applied lowest first. Every block is one
// unit of work: stream mutations, idempotency records, queued notifications and
// the checkpoint commit together or not at all.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/streamledger/internal/core/domain"
	"github.com/vietddude/streamledger/internal/indexing/decoder"
	"github.com/vietddude/streamledger/internal/indexing/metrics"
	"github.com/vietddude/streamledger/internal/indexing/reorg"
	"github.com/vietddude/streamledger/internal/infra/storage"
)

// Config holds reconciler configuration.
type Config struct {
	GenesisHeight   uint64
	AllowGaps       bool
	RetentionBlocks uint64
}

// Locker serializes deliveries across processes. Acquire blocks until the lock
// is held and returns its release function.
type Locker interface {
	Acquire(ctx context.Context) (func(context.Context) error, error)
}

// Result summarizes one delivery.
type Result struct {
	Applied    int `json:"applied"`
	RolledBack int `json:"rolledBack"`
	// Skipped counts blocks that were already applied, below genesis or not on
	// the checkpointed chain for a rollback.
	Skipped int `json:"skipped"`
	Events  int `json:"events"`
}

// Reconciler is the only writer of the ledger of one chain.
type Reconciler struct {
	store    storage.Store
	decoder  *decoder.Decoder
	detector *reorg.Detector
	handler  *reorg.Handler
	locker   Locker

	sem   chan struct{}
	chain string
	log   *slog.Logger
	now   func() time.Time
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLocker adds a cross-process lock taken after the in-process one.
func WithLocker(l Locker) Option {
	return func(r *Reconciler) { r.locker = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// New creates a reconciler for the store's chain.
func New(store storage.Store, dec *decoder.Decoder, cfg Config, opts ...Option) *Reconciler {
	chainID := store.ChainID()
	r := &Reconciler{
		store:   store,
		decoder: dec,
		detector: reorg.NewDetector(reorg.Config{
			GenesisHeight:   cfg.GenesisHeight,
			AllowGaps:       cfg.AllowGaps,
			RetentionBlocks: cfg.RetentionBlocks,
		}),
		handler: reorg.NewHandler(chainID),
		sem:     make(chan struct{}, 1),
		chain:   string(chainID),
		log:     slog.Default().With("component", "reconciler", "chain", chainID),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Ingest applies one delivery. Blocks committed before a failing block stay
// committed; redelivering the whole payload is safe.
func (r *Reconciler) Ingest(ctx context.Context, p *domain.Payload) (*Result, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: empty payload", domain.ErrMalformedPayload)
	}

	unlock, err := r.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	result := &Result{}

	rollback := sortedBlocks(p.Rollback, true)
	for _, b := range rollback {
		applied, err := r.rollbackBlock(ctx, b.Height(), b.Hash())
		if err != nil {
			return result, fmt.Errorf("rollback of block %d (%s): %w", b.Height(), b.Hash(), err)
		}
		if applied {
			result.RolledBack++
		} else {
			result.Skipped++
		}
	}

	apply := sortedBlocks(p.Apply, false)
	for _, b := range apply {
		n, verdict, err := r.applyBlock(ctx, b)
		if err != nil {
			return result, fmt.Errorf("apply of block %d (%s): %w", b.Height(), b.Hash(), err)
		}
		if verdict == reorg.VerdictApply {
			result.Applied++
			result.Events += n
		} else {
			result.Skipped++
		}
	}

	return result, nil
}

// Rewind rolls back every checkpointed block above height, highest first, so
// the upstream indexer can redeliver the canonical chain from there.
func (r *Reconciler) Rewind(ctx context.Context, height uint64) (int, error) {
	unlock, err := r.lock(ctx)
	if err != nil {
		return 0, err
	}
	defer unlock()

	cps, err := r.store.Checkpoints().ListAbove(ctx, height)
	if err != nil {
		return 0, fmt.Errorf("failed to list checkpoints above %d: %w", height, err)
	}

	n := 0
	for _, cp := range cps {
		applied, err := r.rollbackBlock(ctx, cp.Height, cp.BlockHash)
		if err != nil {
			return n, fmt.Errorf("rewind of block %d (%s): %w", cp.Height, cp.BlockHash, err)
		}
		if applied {
			n++
		}
	}

	r.log.Warn("Ledger rewound", "to", height, "blocks", n)
	return n, nil
}

// Latest returns the latest checkpoint, or nil before the first block.
func (r *Reconciler) Latest(ctx context.Context) (*domain.Checkpoint, error) {
	return r.store.Checkpoints().Latest(ctx)
}

// lock waits for the delivery slot of this reconciler, then for the
// cross-process lock if one is configured. Waiting ends with ctx.
func (r *Reconciler) lock(ctx context.Context) (func(), error) {
	select {
	case r.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for ingest slot: %w", ctx.Err())
	}
	unlock := func() { <-r.sem }

	if r.locker == nil {
		return unlock, nil
	}

	release, err := r.locker.Acquire(ctx)
	if err != nil {
		unlock()
		return nil, fmt.Errorf("failed to acquire ingest lock: %w", err)
	}
	return func() {
		// Release even if the delivery context already ended.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := release(ctx); err != nil {
			r.log.Warn("Failed to release ingest lock", "error", err)
		}
		unlock()
	}, nil
}

// sortedBlocks returns a copy ordered by height, descending if desc is set.
func sortedBlocks(blocks []domain.Block, desc bool) []domain.Block {
	out := make([]domain.Block, len(blocks))
	copy(out, blocks)
	sort.SliceStable(out, func(i, j int) bool {
		if desc {
			return out[i].Height() > out[j].Height()
		}
		return out[i].Height() < out[j].Height()
	})
	return out
}

// recordFailure writes the failure log outside the aborted unit of work.
func (r *Reconciler) recordFailure(ctx context.Context, height uint64, hash string, cause error) {
	if errors.Is(cause, context.Canceled) {
		return
	}

	kind := domain.FailureKindOf(cause)
	metrics.Alerts.WithLabelValues(r.chain, string(kind)).Inc()

	attrs := []any{"height", height, "hash", hash, "kind", kind, "error", cause}
	if domain.IsInconsistency(cause) {
		r.log.Error("Ledger inconsistency, block refused", append(attrs, "alert", true)...)
	} else {
		r.log.Error("Block failed", attrs...)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	now := r.now()
	err := r.store.Failures().Record(ctx, &domain.IngestFailure{
		ID:          uuid.NewString(),
		ChainID:     r.store.ChainID(),
		Height:      height,
		BlockHash:   hash,
		Kind:        kind,
		Error:       cause.Error(),
		Attempts:    1,
		Status:      domain.FailureStatusPending,
		CreatedAt:   now,
		LastAttempt: now,
	})
	if err != nil {
		r.log.Error("Failed to record ingest failure", "height", height, "error", err)
	}
}
