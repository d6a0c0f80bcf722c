package reconciler

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/vietddude/streamledger/internal/core/domain"
	"github.com/vietddude/streamledger/internal/core/vesting"
	"github.com/vietddude/streamledger/internal/indexing/decoder"
	"github.com/vietddude/streamledger/internal/indexing/emitter"
	"github.com/vietddude/streamledger/internal/indexing/metrics"
	"github.com/vietddude/streamledger/internal/indexing/reorg"
	"github.com/vietddude/streamledger/internal/infra/storage"
)

// applyBlock applies one block in a single unit of work and returns the number
// of events applied.
func (r *Reconciler) applyBlock(ctx context.Context, b domain.Block) (int, reorg.Verdict, error) {
	start := r.now()
	var (
		verdict reorg.Verdict
		applied int
	)

	err := r.store.WithinBlock(ctx, func(ctx context.Context, tx storage.Tx) error {
		v, err := r.detector.Check(ctx, tx.Checkpoints(), reorg.BlockRef{
			Height:     b.Height(),
			Hash:       b.Hash(),
			ParentHash: b.ParentHash(),
		})
		if err != nil {
			return err
		}
		verdict = v
		if v != reorg.VerdictApply {
			return nil
		}

		for txIndex := range b.Transactions {
			t := &b.Transactions[txIndex]
			if !t.Metadata.Success {
				if len(t.RawEvents()) > 0 {
					metrics.EventsSkipped.WithLabelValues(r.chain, "failed_tx").Add(float64(len(t.RawEvents())))
				}
				continue
			}
			for i, raw := range t.RawEvents() {
				ev, err := r.decoder.Decode(raw)
				if errors.Is(err, decoder.ErrNotStreamEvent) {
					continue
				}
				if err != nil {
					r.log.Warn("Skipping undecodable event",
						"height", b.Height(), "tx", t.Hash(), "index", i, "error", err)
					metrics.EventsSkipped.WithLabelValues(r.chain, "decode").Inc()
					continue
				}

				ref := domain.EventRef{
					TxHash:      t.Hash(),
					TxIndex:     txIndex,
					EventIndex:  i,
					BlockHeight: b.Height(),
					BlockHash:   b.Hash(),
				}
				if pos, ok := decoder.Position(raw); ok {
					ref.EventIndex = pos
				}

				ok, err := r.applyEvent(ctx, tx, ev, ref)
				if err != nil {
					return err
				}
				if ok {
					applied++
				}
			}
		}

		return tx.Checkpoints().Append(ctx, &domain.Checkpoint{
			ChainID:         r.store.ChainID(),
			Height:          b.Height(),
			BlockHash:       b.Hash(),
			ParentBlockHash: b.ParentHash(),
			ProcessedAt:     r.now(),
		})
	})
	if err != nil {
		r.recordFailure(ctx, b.Height(), b.Hash(), err)
		return 0, verdict, err
	}

	switch verdict {
	case reorg.VerdictApply:
		metrics.BlocksApplied.WithLabelValues(r.chain).Inc()
		metrics.CheckpointHeight.WithLabelValues(r.chain).Set(float64(b.Height()))
		metrics.BlockApplyLatency.WithLabelValues(r.chain, "apply").Observe(r.now().Sub(start).Seconds())
		r.log.Info("Block applied", "height", b.Height(), "hash", b.Hash(), "events", applied)
	case reorg.VerdictApplied:
		r.log.Debug("Block already applied", "height", b.Height(), "hash", b.Hash())
	case reorg.VerdictFinal:
		r.log.Debug("Block below ingest window", "height", b.Height(), "hash", b.Hash())
	}

	if verdict != reorg.VerdictFinal {
		if err := r.store.Failures().ResolveBlock(ctx, b.Hash()); err != nil {
			r.log.Warn("Failed to resolve ingest failures", "hash", b.Hash(), "error", err)
		}
	}
	return applied, verdict, nil
}

// applyEvent applies one decoded event. It reports false when the event was
// skipped.
func (r *Reconciler) applyEvent(
	ctx context.Context,
	tx storage.Tx,
	ev *domain.Event,
	ref domain.EventRef,
) (bool, error) {
	done, err := tx.Events().HasApplied(ctx, ref.TxHash, ref.EventIndex)
	if err != nil {
		return false, fmt.Errorf("%w: %s#%d: %w", domain.ErrIdempotencyUnknown, ref.TxHash, ref.EventIndex, err)
	}
	if done {
		metrics.EventsSkipped.WithLabelValues(r.chain, "duplicate").Inc()
		return false, nil
	}

	record := &domain.IngestedEvent{
		TxHash:      ref.TxHash,
		EventIndex:  ref.EventIndex,
		TxIndex:     ref.TxIndex,
		StreamID:    ev.StreamID,
		EventType:   ev.Type,
		BlockHeight: ref.BlockHeight,
		BlockHash:   ref.BlockHash,
		AppliedAt:   r.now(),
	}

	var s *domain.Stream
	switch ev.Type {
	case domain.EventTypeStreamCreated:
		s, err = r.createStream(ctx, tx, ev, ref)
		if err != nil || s == nil {
			return false, err
		}
	case domain.EventTypeStreamWithdrawal:
		s, err = r.withdraw(ctx, tx, ev, ref)
		if err != nil {
			return false, err
		}
		record.Amount = new(big.Int).Set(ev.Amount)
	case domain.EventTypeStreamCancelled:
		s, err = r.cancel(ctx, tx, ev, ref)
		if err != nil {
			return false, err
		}
	default:
		return false, fmt.Errorf("%w: %q", domain.ErrUnknownEventType, ev.Type)
	}

	if err := tx.Events().RecordApplied(ctx, record); err != nil {
		return false, fmt.Errorf("failed to record event %s#%d: %w", ref.TxHash, ref.EventIndex, err)
	}

	snap := vesting.Compute(s, ref.BlockHeight)
	for _, n := range emitter.ForEvent(ev, s, snap, ref) {
		err := tx.Outbox().Enqueue(ctx, &domain.OutboxEntry{
			ID:           n.ID,
			BlockHash:    ref.BlockHash,
			BlockHeight:  ref.BlockHeight,
			Notification: n,
			CreatedAt:    r.now(),
		})
		if err != nil {
			return false, fmt.Errorf("failed to queue notification: %w", err)
		}
	}

	metrics.EventsApplied.WithLabelValues(r.chain, string(ev.Type)).Inc()
	r.log.Debug("Event applied",
		"height", ref.BlockHeight,
		"tx", ref.TxHash,
		"event", ev.Type,
		"stream_id", ev.StreamID,
		"vested", snap.VestedAmount,
		"status", snap.Status,
	)
	return true, nil
}

// createStream inserts a new stream. It returns nil without error when the id
// is already taken; that creation is skipped and left unrecorded.
func (r *Reconciler) createStream(
	ctx context.Context,
	tx storage.Tx,
	ev *domain.Event,
	ref domain.EventRef,
) (*domain.Stream, error) {
	s := &domain.Stream{
		ID:              ev.StreamID,
		Sender:          ev.Sender,
		Recipient:       ev.Recipient,
		TotalAmount:     new(big.Int).Set(ev.Amount),
		WithdrawnAmount: new(big.Int),
		StartBlock:      ev.StartBlock,
		EndBlock:        ev.EndBlock,
		CreatedAtBlock:  ref.BlockHeight,
		CreatedTxHash:   ref.TxHash,
	}

	existing, err := tx.Streams().Get(ctx, ev.StreamID)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream %d: %w", ev.StreamID, err)
	}
	if existing != nil {
		if existing.SameTerms(s) {
			r.log.Info("Stream already exists, creation skipped",
				"stream_id", ev.StreamID, "tx", ref.TxHash)
			metrics.EventsSkipped.WithLabelValues(r.chain, "stream_exists").Inc()
		} else {
			r.log.Error("Conflicting stream creation rejected",
				"stream_id", ev.StreamID,
				"tx", ref.TxHash,
				"existing_tx", existing.CreatedTxHash,
				"alert", true,
			)
			metrics.EventsSkipped.WithLabelValues(r.chain, "stream_conflict").Inc()
		}
		return nil, nil
	}

	if err := tx.Streams().Insert(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to insert stream %d: %w", s.ID, err)
	}
	return s, nil
}

func (r *Reconciler) withdraw(
	ctx context.Context,
	tx storage.Tx,
	ev *domain.Event,
	ref domain.EventRef,
) (*domain.Stream, error) {
	s, err := r.mustGet(ctx, tx, ev, ref)
	if err != nil {
		return nil, err
	}
	if s.Cancelled {
		return nil, fmt.Errorf("withdrawal %s#%d on stream %d: %w",
			ref.TxHash, ref.EventIndex, s.ID, domain.ErrStreamCancelled)
	}

	withdrawn := new(big.Int).Add(s.WithdrawnAmount, ev.Amount)
	if withdrawn.Cmp(s.TotalAmount) > 0 {
		return nil, fmt.Errorf("withdrawal %s#%d takes stream %d to %s of %s: %w",
			ref.TxHash, ref.EventIndex, s.ID, withdrawn, s.TotalAmount, domain.ErrLedgerInvariant)
	}
	if vested := vesting.VestedAmount(s, ref.BlockHeight); withdrawn.Cmp(vested) > 0 {
		r.log.Warn("Withdrawn exceeds locally vested amount",
			"stream_id", s.ID, "height", ref.BlockHeight, "withdrawn", withdrawn, "vested", vested)
	}

	s.WithdrawnAmount = withdrawn
	if err := tx.Streams().Update(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to update stream %d: %w", s.ID, err)
	}
	return s, nil
}

func (r *Reconciler) cancel(
	ctx context.Context,
	tx storage.Tx,
	ev *domain.Event,
	ref domain.EventRef,
) (*domain.Stream, error) {
	s, err := r.mustGet(ctx, tx, ev, ref)
	if err != nil {
		return nil, err
	}
	if s.Cancelled {
		return nil, fmt.Errorf("cancellation %s#%d of stream %d: %w",
			ref.TxHash, ref.EventIndex, s.ID, domain.ErrStreamCancelled)
	}

	at := ref.BlockHeight
	if ev.CancelledAtBlock != nil {
		at = *ev.CancelledAtBlock
	}
	s.Cancelled = true
	s.CancelledAtBlock = &at

	if err := tx.Streams().Update(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to update stream %d: %w", s.ID, err)
	}
	return s, nil
}

func (r *Reconciler) mustGet(
	ctx context.Context,
	tx storage.Tx,
	ev *domain.Event,
	ref domain.EventRef,
) (*domain.Stream, error) {
	s, err := tx.Streams().Get(ctx, ev.StreamID)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream %d: %w", ev.StreamID, err)
	}
	if s == nil {
		return nil, fmt.Errorf("%s %s#%d references stream %d: %w",
			ev.Type, ref.TxHash, ref.EventIndex, ev.StreamID, domain.ErrStreamNotFound)
	}
	return s, nil
}
