// Package vesting computes point-in-time figures for a stream.
//
// Vesting is linear over [StartBlock, EndBlock) with floor rounding, so the
// replica never reports more than the contract would release. A cancelled stream
// stops vesting at its cancellation height.
package vesting

import (
	"math/big"

	"github.com/vietddude/streamledger/internal/core/domain"
)

// Snapshot is the set of derived figures for a stream at one height.
type Snapshot struct {
	AtBlock            uint64
	VestedAmount       *big.Int
	WithdrawableAmount *big.Int
	Status             domain.StreamStatus
}

// VestedAmount returns the amount unlocked by atBlock.
func VestedAmount(s *domain.Stream, atBlock uint64) *big.Int {
	if s.Cancelled && s.CancelledAtBlock != nil && *s.CancelledAtBlock < atBlock {
		atBlock = *s.CancelledAtBlock
	}
	return linear(s, atBlock)
}

func linear(s *domain.Stream, atBlock uint64) *big.Int {
	total := amount(s.TotalAmount)
	if atBlock < s.StartBlock {
		return new(big.Int)
	}
	if atBlock >= s.EndBlock || s.EndBlock <= s.StartBlock {
		return new(big.Int).Set(total)
	}

	elapsed := new(big.Int).SetUint64(atBlock - s.StartBlock)
	duration := new(big.Int).SetUint64(s.EndBlock - s.StartBlock)

	// Quo truncates toward zero; operands are non-negative so this is floor.
	vested := new(big.Int).Mul(total, elapsed)
	return vested.Quo(vested, duration)
}

// WithdrawableAmount returns vested minus withdrawn, never below zero.
func WithdrawableAmount(s *domain.Stream, atBlock uint64) *big.Int {
	w := VestedAmount(s, atBlock)
	w.Sub(w, amount(s.WithdrawnAmount))
	if w.Sign() < 0 {
		w.SetInt64(0)
	}
	return w
}

// Status derives the lifecycle status at atBlock.
func Status(s *domain.Stream, atBlock uint64) domain.StreamStatus {
	switch {
	case s.Cancelled:
		return domain.StreamStatusCancelled
	case atBlock < s.StartBlock:
		return domain.StreamStatusPending
	case atBlock >= s.EndBlock && amount(s.WithdrawnAmount).Cmp(amount(s.TotalAmount)) == 0:
		return domain.StreamStatusCompleted
	default:
		return domain.StreamStatusActive
	}
}

// Compute returns all derived figures at atBlock.
func Compute(s *domain.Stream, atBlock uint64) Snapshot {
	return Snapshot{
		AtBlock:            atBlock,
		VestedAmount:       VestedAmount(s, atBlock),
		WithdrawableAmount: WithdrawableAmount(s, atBlock),
		Status:             Status(s, atBlock),
	}
}

var zero = new(big.Int)

func amount(v *big.Int) *big.Int {
	if v == nil {
		return zero
	}
	return v
}
