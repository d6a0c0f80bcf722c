package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/vietddude/streamledger/internal/core/domain"
	"github.com/vietddude/streamledger/internal/indexing/metrics"
	"github.com/vietddude/streamledger/internal/infra/storage"
)

// Store implements storage.Store for one chain on PostgreSQL.
type Store struct {
	db      *DB
	chainID domain.ChainID
}

var _ storage.Store = (*Store)(nil)

// NewStore creates a store scoped to chainID.
func NewStore(db *DB, chainID domain.ChainID) *Store {
	return &Store{db: db, chainID: chainID}
}

func (s *Store) ChainID() domain.ChainID          { return s.chainID }
func (s *Store) Health(ctx context.Context) error { return s.db.Health(ctx) }
func (s *Store) Close() error                     { return s.db.Close() }

func (s *Store) Streams() storage.StreamRepository {
	return &StreamRepo{q: s.db, chainID: string(s.chainID)}
}

func (s *Store) Events() storage.EventRepository {
	return &EventRepo{q: s.db, chainID: string(s.chainID)}
}

func (s *Store) Checkpoints() storage.CheckpointRepository {
	return &CheckpointRepo{q: s.db, chainID: string(s.chainID)}
}

func (s *Store) Outbox() storage.OutboxRepository {
	return &OutboxRepo{q: s.db, chainID: string(s.chainID)}
}

func (s *Store) Failures() storage.FailureRepository {
	return &FailureRepo{q: s.db, chainID: string(s.chainID)}
}

// WithinBlock runs fn inside a UnitOfWork.
func (s *Store) WithinBlock(
	ctx context.Context,
	fn func(ctx context.Context, tx storage.Tx) error,
) error {
	uow, err := s.db.NewUnitOfWork(ctx, s.chainID)
	if err != nil {
		return err
	}
	// Rollback is a no-op after a successful commit.
	defer func() { _ = uow.Rollback() }()

	if err := fn(ctx, uow); err != nil {
		return err
	}
	return uow.Commit()
}

// UnitOfWork bundles all persistence operations of a block into a single database
// transaction, ensuring atomicity (all succeed or all fail). It holds a
// transaction-scoped advisory lock on the chain id, so units of work of one
// chain never overlap across processes.
type UnitOfWork struct {
	tx      *sqlx.Tx
	chainID domain.ChainID
}

const lockChainQuery = `SELECT pg_advisory_xact_lock(hashtext($1))`

// NewUnitOfWork creates a new unit of work with an active transaction.
func (db *DB) NewUnitOfWork(ctx context.Context, chainID domain.ChainID) (*UnitOfWork, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		metrics.DBErrors.WithLabelValues("begin").Inc()
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	// Writers of the same chain queue here until the holder commits or rolls back.
	if _, err := tx.ExecContext(ctx, lockChainQuery, string(chainID)); err != nil {
		_ = tx.Rollback()
		metrics.DBErrors.WithLabelValues("lock").Inc()
		return nil, fmt.Errorf("failed to lock chain %s: %w", chainID, err)
	}
	return &UnitOfWork{tx: tx, chainID: chainID}, nil
}

// Commit commits the transaction.
func (u *UnitOfWork) Commit() error {
	if u.tx == nil {
		return fmt.Errorf("transaction already completed")
	}
	err := u.tx.Commit()
	u.tx = nil
	if err != nil {
		metrics.DBErrors.WithLabelValues("commit").Inc()
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Rollback rolls back the transaction. Safe to call multiple times.
func (u *UnitOfWork) Rollback() error {
	if u.tx == nil {
		return nil // Already committed or rolled back
	}
	err := u.tx.Rollback()
	u.tx = nil
	return err
}

func (u *UnitOfWork) Streams() storage.StreamRepository {
	return &StreamRepo{q: u.tx, chainID: string(u.chainID)}
}

func (u *UnitOfWork) Events() storage.EventRepository {
	return &EventRepo{q: u.tx, chainID: string(u.chainID)}
}

func (u *UnitOfWork) Checkpoints() storage.CheckpointRepository {
	return &CheckpointRepo{q: u.tx, chainID: string(u.chainID)}
}

func (u *UnitOfWork) Outbox() storage.OutboxRepository {
	return &OutboxRepo{q: u.tx, chainID: string(u.chainID)}
}
