package domain

import (
	"math/big"
	"time"
)

type EventType string

const (
	EventTypeStreamCreated    EventType = "stream-created"
	EventTypeStreamWithdrawal EventType = "stream-withdrawal"
	EventTypeStreamCancelled  EventType = "stream-cancelled"
)

// Event is a decoded stream event emitted by the vesting contract.
type Event struct {
	Type      EventType
	Contract  string
	StreamID  uint64
	Sender    string
	Recipient string
	// Amount is the stream total for creations and the withdrawn amount for withdrawals.
	Amount     *big.Int
	StartBlock uint64
	EndBlock   uint64
	// CancelledAtBlock is only set when the contract reports it explicitly.
	CancelledAtBlock *uint64
}

// EventRef locates an event in the chain.
type EventRef struct {
	TxHash      string
	TxIndex     int
	EventIndex  int
	BlockHeight uint64
	BlockHash   string
}

// IngestedEvent is the idempotency record of one applied event.
type IngestedEvent struct {
	TxHash      string
	EventIndex  int
	TxIndex     int
	StreamID    uint64
	EventType   EventType
	BlockHeight uint64
	BlockHash   string
	// Amount holds the withdrawn amount for withdrawals so they can be reversed.
	Amount    *big.Int
	AppliedAt time.Time
}

// Key returns the unique idempotency key.
func (e *IngestedEvent) Key() EventKey {
	return EventKey{TxHash: e.TxHash, EventIndex: e.EventIndex}
}

// EventKey identifies an event by its transaction and position in the event log.
type EventKey struct {
	TxHash     string
	EventIndex int
}
