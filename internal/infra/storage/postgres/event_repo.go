package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vietddude/streamledger/internal/core/domain"
)

// EventRepo implements storage.EventRepository using PostgreSQL.
type EventRepo struct {
	q       sqlx.ExtContext
	chainID string
}

type eventRow struct {
	TxHash      string         `db:"tx_hash"`
	EventIndex  int            `db:"event_index"`
	TxIndex     int            `db:"tx_index"`
	StreamID    int64          `db:"stream_id"`
	EventType   string         `db:"event_type"`
	BlockHeight int64          `db:"block_height"`
	BlockHash   string         `db:"block_hash"`
	Amount      sql.NullString `db:"amount"`
	AppliedAt   time.Time      `db:"applied_at"`
}

// HasApplied reports whether the event was already applied.
func (r *EventRepo) HasApplied(ctx context.Context, txHash string, eventIndex int) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM ingested_events
			WHERE chain_id = $1 AND tx_hash = $2 AND event_index = $3
		)
	`
	var exists bool
	if err := sqlx.GetContext(ctx, r.q, &exists, query, r.chainID, txHash, eventIndex); err != nil {
		return false, fmt.Errorf("failed to check event: %w", err)
	}
	return exists, nil
}

// RecordApplied stores the idempotency record.
func (r *EventRepo) RecordApplied(ctx context.Context, ev *domain.IngestedEvent) error {
	query := `
		INSERT INTO ingested_events (
			chain_id, tx_hash, event_index, tx_index, stream_id, event_type,
			block_height, block_hash, amount, applied_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::numeric, $10)
	`
	var amount sql.NullString
	if ev.Amount != nil {
		amount = sql.NullString{String: ev.Amount.String(), Valid: true}
	}

	_, err := r.q.ExecContext(ctx, query,
		r.chainID,
		ev.TxHash,
		ev.EventIndex,
		ev.TxIndex,
		int64(ev.StreamID),
		string(ev.EventType),
		int64(ev.BlockHeight),
		ev.BlockHash,
		amount,
		ev.AppliedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("event %s#%d already recorded", ev.TxHash, ev.EventIndex)
	}
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// ListByBlock retrieves the records of a block in application order.
func (r *EventRepo) ListByBlock(ctx context.Context, blockHash string) ([]*domain.IngestedEvent, error) {
	query := `
		SELECT tx_hash, event_index, tx_index, stream_id, event_type,
			block_height, block_hash, amount::text AS amount, applied_at
		FROM ingested_events
		WHERE chain_id = $1 AND block_hash = $2
		ORDER BY tx_index, event_index
	`

	var rows []eventRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, query, r.chainID, blockHash); err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	out := make([]*domain.IngestedEvent, 0, len(rows))
	for _, row := range rows {
		ev := &domain.IngestedEvent{
			TxHash:      row.TxHash,
			EventIndex:  row.EventIndex,
			TxIndex:     row.TxIndex,
			StreamID:    uint64(row.StreamID),
			EventType:   domain.EventType(row.EventType),
			BlockHeight: uint64(row.BlockHeight),
			BlockHash:   row.BlockHash,
			AppliedAt:   row.AppliedAt,
		}
		if row.Amount.Valid {
			amount, err := parseAmount(row.Amount.String)
			if err != nil {
				return nil, fmt.Errorf("event %s#%d amount: %w", row.TxHash, row.EventIndex, err)
			}
			ev.Amount = amount
		}
		out = append(out, ev)
	}
	return out, nil
}

// Revoke removes all records tied to a block.
func (r *EventRepo) Revoke(ctx context.Context, blockHash string) (int, error) {
	query := `DELETE FROM ingested_events WHERE chain_id = $1 AND block_hash = $2`
	res, err := r.q.ExecContext(ctx, query, r.chainID, blockHash)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke events: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
