package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/vietddude/streamledger/internal/core/domain"
)

// FailureRepo implements storage.FailureRepository using PostgreSQL.
type FailureRepo struct {
	q       sqlx.ExtContext
	chainID string
}

type failureRow struct {
	ID          string    `db:"id"`
	ChainID     string    `db:"chain_id"`
	Height      int64     `db:"height"`
	BlockHash   string    `db:"block_hash"`
	Kind        string    `db:"kind"`
	ErrorMsg    string    `db:"error_msg"`
	Attempts    int       `db:"attempts"`
	Status      string    `db:"status"`
	CreatedAt   time.Time `db:"created_at"`
	LastAttempt time.Time `db:"last_attempt"`
}

// Record adds a failure or bumps the attempt count of a pending one for the same block.
func (r *FailureRepo) Record(ctx context.Context, f *domain.IngestFailure) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	now := time.Now()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	if f.LastAttempt.IsZero() {
		f.LastAttempt = now
	}

	query := `
		INSERT INTO ingest_failures (
			id, chain_id, height, block_hash, kind, error_msg, attempts, status, created_at, last_attempt
		) VALUES ($1, $2, $3, $4, $5, $6, 1, 'pending', $7, $8)
		ON CONFLICT (chain_id, height, block_hash, kind) WHERE status = 'pending' DO UPDATE SET
			attempts = ingest_failures.attempts + 1,
			error_msg = EXCLUDED.error_msg,
			last_attempt = EXCLUDED.last_attempt
	`
	_, err := r.q.ExecContext(ctx, query,
		f.ID, r.chainID, int64(f.Height), f.BlockHash, string(f.Kind), f.Error, f.CreatedAt, f.LastAttempt)
	if err != nil {
		return fmt.Errorf("failed to record ingest failure: %w", err)
	}
	return nil
}

// ResolveBlock marks pending failures of a block as resolved.
func (r *FailureRepo) ResolveBlock(ctx context.Context, blockHash string) error {
	query := `
		UPDATE ingest_failures
		SET status = 'resolved'
		WHERE chain_id = $1 AND block_hash = $2 AND status = 'pending'
	`
	_, err := r.q.ExecContext(ctx, query, r.chainID, blockHash)
	return err
}

// GetPending retrieves unresolved failures, newest first.
func (r *FailureRepo) GetPending(ctx context.Context) ([]*domain.IngestFailure, error) {
	query := `
		SELECT id, chain_id, height, block_hash, kind, error_msg, attempts, status, created_at, last_attempt
		FROM ingest_failures
		WHERE chain_id = $1 AND status = 'pending'
		ORDER BY last_attempt DESC
	`

	var rows []failureRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, query, r.chainID); err != nil {
		return nil, fmt.Errorf("failed to get ingest failures: %w", err)
	}

	var out []*domain.IngestFailure
	for _, row := range rows {
		out = append(out, &domain.IngestFailure{
			ID:          row.ID,
			ChainID:     domain.ChainID(row.ChainID),
			Height:      uint64(row.Height),
			BlockHash:   row.BlockHash,
			Kind:        domain.FailureKind(row.Kind),
			Error:       row.ErrorMsg,
			Attempts:    row.Attempts,
			Status:      domain.FailureStatus(row.Status),
			CreatedAt:   row.CreatedAt,
			LastAttempt: row.LastAttempt,
		})
	}
	return out, nil
}

// Count returns the number of unresolved failures.
func (r *FailureRepo) Count(ctx context.Context) (int, error) {
	query := `SELECT COUNT(*) FROM ingest_failures WHERE chain_id = $1 AND status = 'pending'`
	var count int
	if err := sqlx.GetContext(ctx, r.q, &count, query, r.chainID); err != nil {
		return 0, fmt.Errorf("failed to count ingest failures: %w", err)
	}
	return count, nil
}
