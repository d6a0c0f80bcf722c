// Package memory is an in-process Store used for tests and database-less runs.
//
// A unit of work writes the live maps under the store's write lock and keeps an
// undo journal of the keys it touched; an aborted unit replays the journal. Its
// cost is proportional to what the block changes, not to the ledger size.
// Nothing survives a restart.
package memory

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/streamledger/internal/core/domain"
	"github.com/vietddude/streamledger/internal/infra/storage"
)

type state struct {
	streams     map[uint64]*domain.Stream
	events      map[domain.EventKey]*domain.IngestedEvent
	checkpoints map[uint64]*domain.Checkpoint
	outbox      map[string]*domain.OutboxEntry
	outboxSeq   map[string]uint64
	seq         uint64
}

func newState() *state {
	return &state{
		streams:     make(map[uint64]*domain.Stream),
		events:      make(map[domain.EventKey]*domain.IngestedEvent),
		checkpoints: make(map[uint64]*domain.Checkpoint),
		outbox:      make(map[string]*domain.OutboxEntry),
		outboxSeq:   make(map[string]uint64),
	}
}

// MemoryStorage keeps the ledger of one chain in memory. Readers outside a unit
// of work wait for it to finish, so they only see committed state.
type MemoryStorage struct {
	chainID  domain.ChainID
	mu       sync.RWMutex
	st       *state
	failures *FailureRepo
}

var _ storage.Store = (*MemoryStorage)(nil)

func NewMemoryStorage(chainID domain.ChainID) *MemoryStorage {
	return &MemoryStorage{
		chainID:  chainID,
		st:       newState(),
		failures: &FailureRepo{chainID: chainID},
	}
}

func (m *MemoryStorage) ChainID() domain.ChainID        { return m.chainID }
func (m *MemoryStorage) Health(ctx context.Context) error { return nil }
func (m *MemoryStorage) Close() error                     { return nil }

func (m *MemoryStorage) Streams() storage.StreamRepository {
	return &StreamRepo{view: m.committed()}
}

func (m *MemoryStorage) Events() storage.EventRepository {
	return &EventRepo{view: m.committed()}
}

func (m *MemoryStorage) Checkpoints() storage.CheckpointRepository {
	return &CheckpointRepo{view: m.committed()}
}

func (m *MemoryStorage) Outbox() storage.OutboxRepository {
	return &OutboxRepo{view: m.committed()}
}

func (m *MemoryStorage) Failures() storage.FailureRepository {
	return m.failures
}

// WithinBlock implements storage.Store.
func (m *MemoryStorage) WithinBlock(
	ctx context.Context,
	fn func(ctx context.Context, tx storage.Tx) error,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	v := &view{st: m.st, journal: &journal{seq: m.st.seq}}
	committed := false
	defer func() {
		if !committed {
			v.journal.rollback(m.st)
		}
	}()

	if err := fn(ctx, &memTx{view: v}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("unit of work aborted: %w", err)
	}
	committed = true
	return nil
}

// journal records how to undo the writes of one unit of work.
type journal struct {
	seq  uint64
	undo []func()
}

func (j *journal) rollback(st *state) {
	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
	st.seq = j.seq
}

// remember saves the current entry for k before a unit of work changes it.
// It is a no-op for committed views.
func remember[K comparable, V any](v *view, m map[K]V, k K) {
	if v.journal == nil {
		return
	}
	old, ok := m[k]
	v.journal.undo = append(v.journal.undo, func() {
		if ok {
			m[k] = old
		} else {
			delete(m, k)
		}
	})
}

// view resolves the state a repository operates on. Committed views take the
// store lock per call; transactional views are already under the write lock
// and journal their writes.
type view struct {
	st      *state
	store   *MemoryStorage
	journal *journal
}

func (m *MemoryStorage) committed() *view { return &view{store: m} }

func (v *view) read(fn func(st *state)) {
	if v.store == nil {
		fn(v.st)
		return
	}
	v.store.mu.RLock()
	defer v.store.mu.RUnlock()
	fn(v.store.st)
}

func (v *view) write(fn func(st *state)) {
	if v.store == nil {
		fn(v.st)
		return
	}
	v.store.mu.Lock()
	defer v.store.mu.Unlock()
	fn(v.store.st)
}

type memTx struct {
	view *view
}

func (t *memTx) Streams() storage.StreamRepository         { return &StreamRepo{view: t.view} }
func (t *memTx) Events() storage.EventRepository           { return &EventRepo{view: t.view} }
func (t *memTx) Checkpoints() storage.CheckpointRepository { return &CheckpointRepo{view: t.view} }
func (t *memTx) Outbox() storage.OutboxRepository          { return &OutboxRepo{view: t.view} }

// -----------------------------------------------------------------------------
// Stream Repository
// -----------------------------------------------------------------------------

type StreamRepo struct {
	view *view
}

func (r *StreamRepo) Get(ctx context.Context, id uint64) (*domain.Stream, error) {
	var out *domain.Stream
	r.view.read(func(st *state) {
		out = st.streams[id].Clone()
	})
	return out, nil
}

func (r *StreamRepo) Insert(ctx context.Context, s *domain.Stream) error {
	var err error
	r.view.write(func(st *state) {
		if _, ok := st.streams[s.ID]; ok {
			err = fmt.Errorf("stream %d: %w", s.ID, domain.ErrStreamExists)
			return
		}
		remember(r.view, st.streams, s.ID)
		st.streams[s.ID] = s.Clone()
	})
	return err
}

func (r *StreamRepo) Update(ctx context.Context, s *domain.Stream) error {
	var err error
	r.view.write(func(st *state) {
		if _, ok := st.streams[s.ID]; !ok {
			err = fmt.Errorf("stream %d: %w", s.ID, domain.ErrStreamNotFound)
			return
		}
		remember(r.view, st.streams, s.ID)
		st.streams[s.ID] = s.Clone()
	})
	return err
}

func (r *StreamRepo) Delete(ctx context.Context, id uint64) error {
	r.view.write(func(st *state) {
		remember(r.view, st.streams, id)
		delete(st.streams, id)
	})
	return nil
}

func (r *StreamRepo) ListByParty(ctx context.Context, address string) ([]*domain.Stream, error) {
	var out []*domain.Stream
	r.view.read(func(st *state) {
		for _, s := range st.streams {
			if s.Sender == address || s.Recipient == address {
				out = append(out, s.Clone())
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *StreamRepo) Count(ctx context.Context) (int, error) {
	var n int
	r.view.read(func(st *state) { n = len(st.streams) })
	return n, nil
}

// -----------------------------------------------------------------------------
// Event Repository
// -----------------------------------------------------------------------------

type EventRepo struct {
	view *view
}

func (r *EventRepo) HasApplied(ctx context.Context, txHash string, eventIndex int) (bool, error) {
	var ok bool
	r.view.read(func(st *state) {
		_, ok = st.events[domain.EventKey{TxHash: txHash, EventIndex: eventIndex}]
	})
	return ok, nil
}

func (r *EventRepo) RecordApplied(ctx context.Context, ev *domain.IngestedEvent) error {
	var err error
	r.view.write(func(st *state) {
		if _, ok := st.events[ev.Key()]; ok {
			err = fmt.Errorf("event %s#%d already recorded", ev.TxHash, ev.EventIndex)
			return
		}
		remember(r.view, st.events, ev.Key())
		st.events[ev.Key()] = cloneEvent(ev)
	})
	return err
}

func (r *EventRepo) ListByBlock(ctx context.Context, blockHash string) ([]*domain.IngestedEvent, error) {
	var out []*domain.IngestedEvent
	r.view.read(func(st *state) {
		for _, ev := range st.events {
			if ev.BlockHash == blockHash {
				out = append(out, cloneEvent(ev))
			}
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].TxIndex != out[j].TxIndex {
			return out[i].TxIndex < out[j].TxIndex
		}
		return out[i].EventIndex < out[j].EventIndex
	})
	return out, nil
}

func (r *EventRepo) Revoke(ctx context.Context, blockHash string) (int, error) {
	var n int
	r.view.write(func(st *state) {
		for k, ev := range st.events {
			if ev.BlockHash == blockHash {
				remember(r.view, st.events, k)
				delete(st.events, k)
				n++
			}
		}
	})
	return n, nil
}

func cloneEvent(ev *domain.IngestedEvent) *domain.IngestedEvent {
	c := *ev
	if ev.Amount != nil {
		c.Amount = new(big.Int).Set(ev.Amount)
	}
	return &c
}

// -----------------------------------------------------------------------------
// Checkpoint Repository
// -----------------------------------------------------------------------------

type CheckpointRepo struct {
	view *view
}

func (r *CheckpointRepo) Latest(ctx context.Context) (*domain.Checkpoint, error) {
	var out *domain.Checkpoint
	r.view.read(func(st *state) {
		for _, cp := range st.checkpoints {
			if out == nil || cp.Height > out.Height {
				out = cp
			}
		}
		if out != nil {
			c := *out
			out = &c
		}
	})
	return out, nil
}

func (r *CheckpointRepo) Get(ctx context.Context, height uint64) (*domain.Checkpoint, error) {
	var out *domain.Checkpoint
	r.view.read(func(st *state) {
		if cp, ok := st.checkpoints[height]; ok {
			c := *cp
			out = &c
		}
	})
	return out, nil
}

func (r *CheckpointRepo) Append(ctx context.Context, cp *domain.Checkpoint) error {
	var err error
	r.view.write(func(st *state) {
		if _, ok := st.checkpoints[cp.Height]; ok {
			err = fmt.Errorf("checkpoint at height %d already exists", cp.Height)
			return
		}
		c := *cp
		remember(r.view, st.checkpoints, cp.Height)
		st.checkpoints[cp.Height] = &c
	})
	return err
}

func (r *CheckpointRepo) TruncateFrom(ctx context.Context, height uint64) (int, error) {
	var n int
	r.view.write(func(st *state) {
		for h := range st.checkpoints {
			if h >= height {
				remember(r.view, st.checkpoints, h)
				delete(st.checkpoints, h)
				n++
			}
		}
	})
	return n, nil
}

func (r *CheckpointRepo) ListAbove(ctx context.Context, height uint64) ([]*domain.Checkpoint, error) {
	var out []*domain.Checkpoint
	r.view.read(func(st *state) {
		for h, cp := range st.checkpoints {
			if h > height {
				c := *cp
				out = append(out, &c)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Height > out[j].Height })
	return out, nil
}

func (r *CheckpointRepo) PruneBelow(ctx context.Context, height uint64) (int, error) {
	var n int
	r.view.write(func(st *state) {
		for h := range st.checkpoints {
			if h < height {
				remember(r.view, st.checkpoints, h)
				delete(st.checkpoints, h)
				n++
			}
		}
	})
	return n, nil
}

// -----------------------------------------------------------------------------
// Outbox Repository
// -----------------------------------------------------------------------------

type OutboxRepo struct {
	view *view
}

func (r *OutboxRepo) Enqueue(ctx context.Context, e *domain.OutboxEntry) error {
	r.view.write(func(st *state) {
		st.seq++
		remember(r.view, st.outbox, e.ID)
		remember(r.view, st.outboxSeq, e.ID)
		st.outbox[e.ID] = cloneOutbox(e)
		st.outboxSeq[e.ID] = st.seq
	})
	return nil
}

func (r *OutboxRepo) sorted(st *state, keep func(e *domain.OutboxEntry) bool) []*domain.OutboxEntry {
	var out []*domain.OutboxEntry
	for _, e := range st.outbox {
		if keep(e) {
			out = append(out, cloneOutbox(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return st.outboxSeq[out[i].ID] < st.outboxSeq[out[j].ID] })
	return out
}

func (r *OutboxRepo) Pending(ctx context.Context, f storage.PendingFilter) ([]*domain.OutboxEntry, error) {
	var out []*domain.OutboxEntry
	r.view.read(func(st *state) {
		out = r.sorted(st, func(e *domain.OutboxEntry) bool {
			if e.Delivered() {
				return false
			}
			if f.MaxAttempts > 0 && e.Attempts >= f.MaxAttempts {
				return false
			}
			return f.MaxHeight == 0 || e.BlockHeight <= f.MaxHeight
		})
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *OutboxRepo) ListByBlock(ctx context.Context, blockHash string) ([]*domain.OutboxEntry, error) {
	var out []*domain.OutboxEntry
	r.view.read(func(st *state) {
		out = r.sorted(st, func(e *domain.OutboxEntry) bool { return e.BlockHash == blockHash })
	})
	return out, nil
}

func (r *OutboxRepo) DeleteUndelivered(ctx context.Context, blockHash string) (int, error) {
	var n int
	r.view.write(func(st *state) {
		for id, e := range st.outbox {
			if e.BlockHash == blockHash && !e.Delivered() {
				remember(r.view, st.outbox, id)
				remember(r.view, st.outboxSeq, id)
				delete(st.outbox, id)
				delete(st.outboxSeq, id)
				n++
			}
		}
	})
	return n, nil
}

func (r *OutboxRepo) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	r.view.write(func(st *state) {
		if e, ok := st.outbox[id]; ok {
			c := cloneOutbox(e)
			c.Attempts++
			c.DeliveredAt = &at
			c.LastError = ""
			remember(r.view, st.outbox, id)
			st.outbox[id] = c
		}
	})
	return nil
}

func (r *OutboxRepo) MarkFailed(ctx context.Context, id string, errMsg string) error {
	r.view.write(func(st *state) {
		if e, ok := st.outbox[id]; ok {
			c := cloneOutbox(e)
			c.Attempts++
			c.LastError = errMsg
			remember(r.view, st.outbox, id)
			st.outbox[id] = c
		}
	})
	return nil
}

func (r *OutboxRepo) PruneDelivered(ctx context.Context, before time.Time) (int, error) {
	var n int
	r.view.write(func(st *state) {
		for id, e := range st.outbox {
			if e.Delivered() && e.DeliveredAt.Before(before) {
				remember(r.view, st.outbox, id)
				remember(r.view, st.outboxSeq, id)
				delete(st.outbox, id)
				delete(st.outboxSeq, id)
				n++
			}
		}
	})
	return n, nil
}

func cloneOutbox(e *domain.OutboxEntry) *domain.OutboxEntry {
	c := *e
	if e.DeliveredAt != nil {
		at := *e.DeliveredAt
		c.DeliveredAt = &at
	}
	if e.Notification.Data != nil {
		c.Notification.Data = make(map[string]any, len(e.Notification.Data))
		for k, v := range e.Notification.Data {
			c.Notification.Data[k] = v
		}
	}
	return &c
}

// -----------------------------------------------------------------------------
// Failure Repository
// -----------------------------------------------------------------------------

// FailureRepo lives outside the unit of work so failures survive the abort of
// the block that produced them.
type FailureRepo struct {
	chainID  domain.ChainID
	mu       sync.Mutex
	failures []*domain.IngestFailure
}

func (r *FailureRepo) Record(ctx context.Context, f *domain.IngestFailure) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.failures {
		if existing.Status == domain.FailureStatusPending &&
			existing.BlockHash == f.BlockHash && existing.Height == f.Height && existing.Kind == f.Kind {
			existing.Attempts++
			existing.Error = f.Error
			existing.LastAttempt = f.LastAttempt
			return nil
		}
	}
	c := *f
	if c.ChainID == "" {
		c.ChainID = r.chainID
	}
	r.failures = append(r.failures, &c)
	return nil
}

func (r *FailureRepo) ResolveBlock(ctx context.Context, blockHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.failures {
		if f.BlockHash == blockHash {
			f.Status = domain.FailureStatusResolved
		}
	}
	return nil
}

func (r *FailureRepo) GetPending(ctx context.Context) ([]*domain.IngestFailure, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.IngestFailure
	for i := len(r.failures) - 1; i >= 0; i-- {
		if r.failures[i].Status == domain.FailureStatusPending {
			c := *r.failures[i]
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *FailureRepo) Count(ctx context.Context) (int, error) {
	pending, _ := r.GetPending(ctx)
	return len(pending), nil
}
