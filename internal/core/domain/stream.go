package domain

import "math/big"

// Stream is the off-chain replica of one on-chain vesting stream.
type Stream struct {
	ID               uint64
	Sender           string
	Recipient        string
	TotalAmount      *big.Int
	WithdrawnAmount  *big.Int
	StartBlock       uint64
	EndBlock         uint64
	Cancelled        bool
	CancelledAtBlock *uint64
	CreatedAtBlock   uint64
	CreatedTxHash    string
}

type StreamStatus string

const (
	StreamStatusPending   StreamStatus = "pending"
	StreamStatusActive    StreamStatus = "active"
	StreamStatusCompleted StreamStatus = "completed"
	StreamStatusCancelled StreamStatus = "cancelled"
)

// Clone returns a deep copy so callers can mutate amounts freely.
func (s *Stream) Clone() *Stream {
	if s == nil {
		return nil
	}
	c := *s
	if s.TotalAmount != nil {
		c.TotalAmount = new(big.Int).Set(s.TotalAmount)
	}
	if s.WithdrawnAmount != nil {
		c.WithdrawnAmount = new(big.Int).Set(s.WithdrawnAmount)
	}
	if s.CancelledAtBlock != nil {
		at := *s.CancelledAtBlock
		c.CancelledAtBlock = &at
	}
	return &c
}

// SameTerms reports whether two streams were created with identical parameters.
func (s *Stream) SameTerms(o *Stream) bool {
	if s == nil || o == nil {
		return s == o
	}
	return s.ID == o.ID &&
		s.Sender == o.Sender &&
		s.Recipient == o.Recipient &&
		bigEqual(s.TotalAmount, o.TotalAmount) &&
		s.StartBlock == o.StartBlock &&
		s.EndBlock == o.EndBlock
}

// Equal compares every stored field.
func (s *Stream) Equal(o *Stream) bool {
	if !s.SameTerms(o) || s == nil {
		return s == o
	}
	if s.Cancelled != o.Cancelled || !bigEqual(s.WithdrawnAmount, o.WithdrawnAmount) {
		return false
	}
	if (s.CancelledAtBlock == nil) != (o.CancelledAtBlock == nil) {
		return false
	}
	if s.CancelledAtBlock != nil && *s.CancelledAtBlock != *o.CancelledAtBlock {
		return false
	}
	return s.CreatedAtBlock == o.CreatedAtBlock && s.CreatedTxHash == o.CreatedTxHash
}

func bigEqual(a, b *big.Int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Cmp(b) == 0
}
