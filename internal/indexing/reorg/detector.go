package reorg

import (
	"context"
	"fmt"

	"github.com/vietddude/streamledger/internal/core/domain"
	"github.com/vietddude/streamledger/internal/infra/storage"
)

// Detector checks that incoming blocks extend the checkpointed chain.
type Detector struct {
	config Config
}

// Verdict is the outcome of a continuity check.
type Verdict int

const (
	// VerdictApply means the block extends the checkpointed chain.
	VerdictApply Verdict = iota
	// VerdictApplied means the same block is already checkpointed.
	VerdictApplied
	// VerdictFinal means the block is below the genesis height or the
	// retention window and is ignored.
	VerdictFinal
)

func (v Verdict) String() string {
	switch v {
	case VerdictApply:
		return "apply"
	case VerdictApplied:
		return "applied"
	case VerdictFinal:
		return "final"
	default:
		return "unknown"
	}
}

// ContinuityError describes a block that does not extend the checkpointed chain.
type ContinuityError struct {
	Height       uint64
	ExpectedHash string // hash the ledger believes is canonical
	ActualHash   string // hash carried by the delivered block
	Reason       string
	Err          error // domain.ErrReorgDetected or domain.ErrBlockGap
}

func (e *ContinuityError) Error() string {
	return fmt.Sprintf("%v at height %d: %s (expected %s, got %s)",
		e.Err, e.Height, e.Reason, e.ExpectedHash, e.ActualHash)
}

func (e *ContinuityError) Unwrap() error { return e.Err }

// BlockRef is the part of a block the detector looks at.
type BlockRef struct {
	Height     uint64
	Hash       string
	ParentHash string
}

// Check verifies the block's parent hash against the stored checkpoints.
// This uses data already in the webhook payload.
func (d *Detector) Check(
	ctx context.Context,
	checkpoints storage.CheckpointRepository,
	block BlockRef,
) (Verdict, error) {
	existing, err := checkpoints.Get(ctx, block.Height)
	if err != nil {
		return 0, fmt.Errorf("failed to get checkpoint %d: %w", block.Height, err)
	}
	if existing != nil {
		if existing.BlockHash == block.Hash {
			return VerdictApplied, nil
		}
		return 0, &ContinuityError{
			Height:       block.Height,
			ExpectedHash: existing.BlockHash,
			ActualHash:   block.Hash,
			Reason:       "height already checkpointed with another hash",
			Err:          domain.ErrReorgDetected,
		}
	}

	latest, err := checkpoints.Latest(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest checkpoint: %w", err)
	}

	// Nothing applied yet: the first block anchors the chain.
	if latest == nil {
		if block.Height < d.config.GenesisHeight {
			return VerdictFinal, nil
		}
		return VerdictApply, nil
	}

	switch {
	case block.Height == latest.Height+1:
		if block.ParentHash != latest.BlockHash {
			return 0, &ContinuityError{
				Height:       block.Height,
				ExpectedHash: latest.BlockHash,
				ActualHash:   block.ParentHash,
				Reason:       "parent hash does not match latest checkpoint",
				Err:          domain.ErrReorgDetected,
			}
		}
		return VerdictApply, nil

	case block.Height > latest.Height+1:
		if !d.config.AllowGaps {
			return 0, &ContinuityError{
				Height:       block.Height,
				ExpectedHash: latest.BlockHash,
				ActualHash:   block.ParentHash,
				Reason:       fmt.Sprintf("blocks %d-%d missing", latest.Height+1, block.Height-1),
				Err:          domain.ErrBlockGap,
			}
		}
		return VerdictApply, nil

	default:
		// Below the tip without a checkpoint: pruned, or delivered out of order.
		if d.config.RetentionBlocks > 0 && latest.Height-block.Height > d.config.RetentionBlocks {
			return VerdictFinal, nil
		}
		return 0, &ContinuityError{
			Height:       block.Height,
			ExpectedHash: latest.BlockHash,
			ActualHash:   block.Hash,
			Reason:       fmt.Sprintf("block below checkpoint tip %d", latest.Height),
			Err:          domain.ErrReorgDetected,
		}
	}
}
