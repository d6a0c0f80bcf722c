package domain

import "encoding/json"

// Payload is the body of a chainhook webhook delivery.
type Payload struct {
	Apply     []Block        `json:"apply"`
	Rollback  []Block        `json:"rollback"`
	Chainhook *ChainhookInfo `json:"chainhook"`
}

type ChainhookInfo struct {
	UUID              string          `json:"uuid"`
	Predicate         json.RawMessage `json:"predicate"`
	IsStreamingBlocks bool            `json:"is_streaming_blocks,omitempty"`
}

type BlockIdentifier struct {
	Index uint64 `json:"index"`
	Hash  string `json:"hash"`
}

type Block struct {
	BlockIdentifier       BlockIdentifier `json:"block_identifier"`
	ParentBlockIdentifier BlockIdentifier `json:"parent_block_identifier"`
	Timestamp             int64           `json:"timestamp"`
	Transactions          []Transaction   `json:"transactions"`
}

func (b *Block) Height() uint64     { return b.BlockIdentifier.Index }
func (b *Block) Hash() string       { return b.BlockIdentifier.Hash }
func (b *Block) ParentHash() string { return b.ParentBlockIdentifier.Hash }

type TransactionIdentifier struct {
	Hash string `json:"hash"`
}

type Transaction struct {
	TransactionIdentifier TransactionIdentifier `json:"transaction_identifier"`
	Metadata              TransactionMetadata   `json:"metadata"`
}

type TransactionMetadata struct {
	Success bool              `json:"success"`
	Events  []json.RawMessage `json:"events,omitempty"`
	Receipt *Receipt          `json:"receipt,omitempty"`
}

// Receipt is where chainhook nests events for Stacks transactions.
type Receipt struct {
	Events []json.RawMessage `json:"events"`
}

// RawEvents returns the transaction's event log, preferring the flat list.
func (t *Transaction) RawEvents() []json.RawMessage {
	if len(t.Metadata.Events) > 0 {
		return t.Metadata.Events
	}
	if t.Metadata.Receipt != nil {
		return t.Metadata.Receipt.Events
	}
	return nil
}

func (t *Transaction) Hash() string { return t.TransactionIdentifier.Hash }
