package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"

	"github.com/jmoiron/sqlx"

	"github.com/vietddude/streamledger/internal/core/domain"
)

// StreamRepo implements storage.StreamRepository using PostgreSQL.
type StreamRepo struct {
	q       sqlx.ExtContext
	chainID string
}

const streamColumns = `
	stream_id, sender, recipient, total_amount::text AS total_amount,
	withdrawn_amount::text AS withdrawn_amount, start_block, end_block,
	cancelled, cancelled_at_block, created_at_block, created_tx_hash
`

type streamRow struct {
	StreamID         int64         `db:"stream_id"`
	Sender           string        `db:"sender"`
	Recipient        string        `db:"recipient"`
	TotalAmount      string        `db:"total_amount"`
	WithdrawnAmount  string        `db:"withdrawn_amount"`
	StartBlock       int64         `db:"start_block"`
	EndBlock         int64         `db:"end_block"`
	Cancelled        bool          `db:"cancelled"`
	CancelledAtBlock sql.NullInt64 `db:"cancelled_at_block"`
	CreatedAtBlock   int64         `db:"created_at_block"`
	CreatedTxHash    string        `db:"created_tx_hash"`
}

func (r *streamRow) toDomain() (*domain.Stream, error) {
	total, err := parseAmount(r.TotalAmount)
	if err != nil {
		return nil, fmt.Errorf("stream %d total_amount: %w", r.StreamID, err)
	}
	withdrawn, err := parseAmount(r.WithdrawnAmount)
	if err != nil {
		return nil, fmt.Errorf("stream %d withdrawn_amount: %w", r.StreamID, err)
	}

	s := &domain.Stream{
		ID:              uint64(r.StreamID),
		Sender:          r.Sender,
		Recipient:       r.Recipient,
		TotalAmount:     total,
		WithdrawnAmount: withdrawn,
		StartBlock:      uint64(r.StartBlock),
		EndBlock:        uint64(r.EndBlock),
		Cancelled:       r.Cancelled,
		CreatedAtBlock:  uint64(r.CreatedAtBlock),
		CreatedTxHash:   r.CreatedTxHash,
	}
	if r.CancelledAtBlock.Valid {
		at := uint64(r.CancelledAtBlock.Int64)
		s.CancelledAtBlock = &at
	}
	return s, nil
}

// Get retrieves a stream by id.
func (r *StreamRepo) Get(ctx context.Context, id uint64) (*domain.Stream, error) {
	query := `SELECT ` + streamColumns + ` FROM streams WHERE chain_id = $1 AND stream_id = $2`

	var row streamRow
	err := sqlx.GetContext(ctx, r.q, &row, query, r.chainID, int64(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stream: %w", err)
	}
	return row.toDomain()
}

// Insert creates a stream.
func (r *StreamRepo) Insert(ctx context.Context, s *domain.Stream) error {
	query := `
		INSERT INTO streams (
			chain_id, stream_id, sender, recipient, total_amount, withdrawn_amount,
			start_block, end_block, cancelled, cancelled_at_block, created_at_block, created_tx_hash
		) VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.q.ExecContext(ctx, query,
		r.chainID,
		int64(s.ID),
		s.Sender,
		s.Recipient,
		formatAmount(s.TotalAmount),
		formatAmount(s.WithdrawnAmount),
		int64(s.StartBlock),
		int64(s.EndBlock),
		s.Cancelled,
		nullHeight(s.CancelledAtBlock),
		int64(s.CreatedAtBlock),
		s.CreatedTxHash,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("stream %d: %w", s.ID, domain.ErrStreamExists)
	}
	if err != nil {
		return fmt.Errorf("failed to insert stream: %w", err)
	}
	return nil
}

// Update overwrites the mutable fields of a stream.
func (r *StreamRepo) Update(ctx context.Context, s *domain.Stream) error {
	query := `
		UPDATE streams
		SET withdrawn_amount = $3::numeric, cancelled = $4, cancelled_at_block = $5
		WHERE chain_id = $1 AND stream_id = $2
	`
	res, err := r.q.ExecContext(ctx, query,
		r.chainID,
		int64(s.ID),
		formatAmount(s.WithdrawnAmount),
		s.Cancelled,
		nullHeight(s.CancelledAtBlock),
	)
	if err != nil {
		return fmt.Errorf("failed to update stream: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("stream %d: %w", s.ID, domain.ErrStreamNotFound)
	}
	return nil
}

// Delete removes a stream.
func (r *StreamRepo) Delete(ctx context.Context, id uint64) error {
	query := `DELETE FROM streams WHERE chain_id = $1 AND stream_id = $2`
	if _, err := r.q.ExecContext(ctx, query, r.chainID, int64(id)); err != nil {
		return fmt.Errorf("failed to delete stream: %w", err)
	}
	return nil
}

// ListByParty retrieves streams where address is the sender or the recipient.
func (r *StreamRepo) ListByParty(ctx context.Context, address string) ([]*domain.Stream, error) {
	query := `
		SELECT ` + streamColumns + `
		FROM streams
		WHERE chain_id = $1 AND (sender = $2 OR recipient = $2)
		ORDER BY stream_id
	`

	var rows []streamRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, query, r.chainID, address); err != nil {
		return nil, fmt.Errorf("failed to list streams: %w", err)
	}

	out := make([]*domain.Stream, 0, len(rows))
	for i := range rows {
		s, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Count returns the number of streams.
func (r *StreamRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, r.q, &n, `SELECT COUNT(*) FROM streams WHERE chain_id = $1`, r.chainID)
	if err != nil {
		return 0, fmt.Errorf("failed to count streams: %w", err)
	}
	return n, nil
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}

func nullHeight(h *uint64) sql.NullInt64 {
	if h == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*h), Valid: true}
}
