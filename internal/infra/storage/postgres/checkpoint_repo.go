package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vietddude/streamledger/internal/core/domain"
)

// CheckpointRepo implements storage.CheckpointRepository using PostgreSQL.
type CheckpointRepo struct {
	q       sqlx.ExtContext
	chainID string
}

type checkpointRow struct {
	ChainID         string    `db:"chain_id"`
	Height          int64     `db:"height"`
	BlockHash       string    `db:"block_hash"`
	ParentBlockHash string    `db:"parent_block_hash"`
	ProcessedAt     time.Time `db:"processed_at"`
}

func (c *checkpointRow) toDomain() *domain.Checkpoint {
	return &domain.Checkpoint{
		ChainID:         domain.ChainID(c.ChainID),
		Height:          uint64(c.Height),
		BlockHash:       c.BlockHash,
		ParentBlockHash: c.ParentBlockHash,
		ProcessedAt:     c.ProcessedAt,
	}
}

const checkpointColumns = `chain_id, height, block_hash, parent_block_hash, processed_at`

func (r *CheckpointRepo) getOne(ctx context.Context, query string, args ...any) (*domain.Checkpoint, error) {
	var row checkpointRow
	err := sqlx.GetContext(ctx, r.q, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}
	return row.toDomain(), nil
}

// Latest retrieves the highest checkpoint.
func (r *CheckpointRepo) Latest(ctx context.Context) (*domain.Checkpoint, error) {
	query := `
		SELECT ` + checkpointColumns + `
		FROM checkpoints
		WHERE chain_id = $1
		ORDER BY height DESC
		LIMIT 1
	`
	return r.getOne(ctx, query, r.chainID)
}

// Get retrieves the checkpoint at a height.
func (r *CheckpointRepo) Get(ctx context.Context, height uint64) (*domain.Checkpoint, error) {
	query := `SELECT ` + checkpointColumns + ` FROM checkpoints WHERE chain_id = $1 AND height = $2`
	return r.getOne(ctx, query, r.chainID, int64(height))
}

// Append stores a checkpoint.
func (r *CheckpointRepo) Append(ctx context.Context, cp *domain.Checkpoint) error {
	query := `
		INSERT INTO checkpoints (` + checkpointColumns + `)
		VALUES (:chain_id, :height, :block_hash, :parent_block_hash, :processed_at)
	`
	_, err := sqlx.NamedExecContext(ctx, r.q, query, &checkpointRow{
		ChainID:         r.chainID,
		Height:          int64(cp.Height),
		BlockHash:       cp.BlockHash,
		ParentBlockHash: cp.ParentBlockHash,
		ProcessedAt:     cp.ProcessedAt,
	})
	if isUniqueViolation(err) {
		return fmt.Errorf("checkpoint at height %d already exists", cp.Height)
	}
	if err != nil {
		return fmt.Errorf("failed to append checkpoint: %w", err)
	}
	return nil
}

// TruncateFrom removes checkpoints at or above height.
func (r *CheckpointRepo) TruncateFrom(ctx context.Context, height uint64) (int, error) {
	query := `DELETE FROM checkpoints WHERE chain_id = $1 AND height >= $2`
	res, err := r.q.ExecContext(ctx, query, r.chainID, int64(height))
	if err != nil {
		return 0, fmt.Errorf("failed to truncate checkpoints: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ListAbove retrieves checkpoints above height, highest first.
func (r *CheckpointRepo) ListAbove(ctx context.Context, height uint64) ([]*domain.Checkpoint, error) {
	query := `
		SELECT ` + checkpointColumns + `
		FROM checkpoints
		WHERE chain_id = $1 AND height > $2
		ORDER BY height DESC
	`
	var rows []checkpointRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, query, r.chainID, int64(height)); err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}

	out := make([]*domain.Checkpoint, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

// PruneBelow removes checkpoints below height.
func (r *CheckpointRepo) PruneBelow(ctx context.Context, height uint64) (int, error) {
	query := `DELETE FROM checkpoints WHERE chain_id = $1 AND height < $2`
	res, err := r.q.ExecContext(ctx, query, r.chainID, int64(height))
	if err != nil {
		return 0, fmt.Errorf("failed to prune checkpoints: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
