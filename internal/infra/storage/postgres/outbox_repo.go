package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vietddude/streamledger/internal/core/domain"
	"github.com/vietddude/streamledger/internal/infra/storage"
)

// OutboxRepo implements storage.OutboxRepository using PostgreSQL.
type OutboxRepo struct {
	q       sqlx.ExtContext
	chainID string
}

type outboxRow struct {
	ID          string       `db:"id"`
	BlockHash   string       `db:"block_hash"`
	BlockHeight int64        `db:"block_height"`
	Payload     []byte       `db:"payload"`
	Attempts    int          `db:"attempts"`
	LastError   string       `db:"last_error"`
	CreatedAt   time.Time    `db:"created_at"`
	DeliveredAt sql.NullTime `db:"delivered_at"`
}

func (o *outboxRow) toDomain() (*domain.OutboxEntry, error) {
	e := &domain.OutboxEntry{
		ID:          o.ID,
		BlockHash:   o.BlockHash,
		BlockHeight: uint64(o.BlockHeight),
		Attempts:    o.Attempts,
		LastError:   o.LastError,
		CreatedAt:   o.CreatedAt,
	}
	if err := json.Unmarshal(o.Payload, &e.Notification); err != nil {
		return nil, fmt.Errorf("outbox %s payload: %w", o.ID, err)
	}
	if o.DeliveredAt.Valid {
		at := o.DeliveredAt.Time
		e.DeliveredAt = &at
	}
	return e, nil
}

const outboxColumns = `id, block_hash, block_height, payload::text AS payload, attempts, last_error, created_at, delivered_at`

func (r *OutboxRepo) list(ctx context.Context, query string, args ...any) ([]*domain.OutboxEntry, error) {
	var rows []outboxRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list outbox: %w", err)
	}
	out := make([]*domain.OutboxEntry, 0, len(rows))
	for i := range rows {
		e, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Enqueue stores a notification for later delivery.
func (r *OutboxRepo) Enqueue(ctx context.Context, e *domain.OutboxEntry) error {
	payload, err := json.Marshal(e.Notification)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	query := `
		INSERT INTO outbox (id, chain_id, block_hash, block_height, payload, attempts, last_error, created_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, 0, '', $6)
	`
	_, err = r.q.ExecContext(ctx, query,
		e.ID, r.chainID, e.BlockHash, int64(e.BlockHeight), string(payload), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to enqueue notification: %w", err)
	}
	return nil
}

// Pending retrieves undelivered entries matching the filter, oldest first.
func (r *OutboxRepo) Pending(ctx context.Context, f storage.PendingFilter) ([]*domain.OutboxEntry, error) {
	query := `
		SELECT ` + outboxColumns + `
		FROM outbox
		WHERE chain_id = $1 AND delivered_at IS NULL
		  AND ($2::int = 0 OR attempts < $2::int)
		  AND ($3::bigint = 0 OR block_height <= $3::bigint)
		ORDER BY seq
		LIMIT $4
	`
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	return r.list(ctx, query, r.chainID, f.MaxAttempts, int64(f.MaxHeight), limit)
}

// ListByBlock retrieves all entries produced by a block.
func (r *OutboxRepo) ListByBlock(ctx context.Context, blockHash string) ([]*domain.OutboxEntry, error) {
	query := `
		SELECT ` + outboxColumns + `
		FROM outbox
		WHERE chain_id = $1 AND block_hash = $2
		ORDER BY seq
	`
	return r.list(ctx, query, r.chainID, blockHash)
}

// DeleteUndelivered drops undelivered entries produced by a block.
func (r *OutboxRepo) DeleteUndelivered(ctx context.Context, blockHash string) (int, error) {
	query := `DELETE FROM outbox WHERE chain_id = $1 AND block_hash = $2 AND delivered_at IS NULL`
	res, err := r.q.ExecContext(ctx, query, r.chainID, blockHash)
	if err != nil {
		return 0, fmt.Errorf("failed to delete outbox entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// MarkDelivered records a successful delivery.
func (r *OutboxRepo) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE outbox
		SET delivered_at = $2, attempts = attempts + 1, last_error = ''
		WHERE id = $1
	`
	_, err := r.q.ExecContext(ctx, query, id, at)
	return err
}

// MarkFailed increments the attempt count and stores the error.
func (r *OutboxRepo) MarkFailed(ctx context.Context, id string, errMsg string) error {
	query := `UPDATE outbox SET attempts = attempts + 1, last_error = $2 WHERE id = $1`
	_, err := r.q.ExecContext(ctx, query, id, errMsg)
	return err
}

// PruneDelivered removes entries delivered before the given time.
func (r *OutboxRepo) PruneDelivered(ctx context.Context, before time.Time) (int, error) {
	query := `DELETE FROM outbox WHERE chain_id = $1 AND delivered_at IS NOT NULL AND delivered_at < $2`
	res, err := r.q.ExecContext(ctx, query, r.chainID, before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune outbox: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
