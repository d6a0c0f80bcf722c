package emitter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/streamledger/internal/core/domain"
	"github.com/vietddude/streamledger/internal/infra/storage"
	"github.com/vietddude/streamledger/internal/infra/storage/memory"
)

type mockNotifier struct {
	mu    sync.Mutex
	sent  []domain.Notification
	fails map[string]error
}

func newMockNotifier() *mockNotifier {
	return &mockNotifier{fails: make(map[string]error)}
}

func (m *mockNotifier) Notify(ctx context.Context, n domain.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.fails[n.ID]; ok {
		return err
	}
	m.sent = append(m.sent, n)
	return nil
}

func (m *mockNotifier) Close() error { return nil }

func enqueue(t *testing.T, store *memory.MemoryStorage, id string, height uint64) {
	t.Helper()
	err := store.Outbox().Enqueue(context.Background(), &domain.OutboxEntry{
		ID:           id,
		BlockHash:    "0xblock",
		BlockHeight:  height,
		Notification: domain.Notification{ID: id, UserID: "SP1"},
		CreatedAt:    time.Now(),
	})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
}

func TestDispatcher_Flush(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStorage(domain.ChainIDStacksDevnet)
	notifier := newMockNotifier()
	notifier.fails["bad"] = &StatusError{Code: 400, Body: "rejected"}

	enqueue(t, store, "a", 100)
	enqueue(t, store, "bad", 100)
	enqueue(t, store, "b", 101)

	d := NewDispatcher(store, notifier, DispatcherConfig{MaxAttempts: 2, Backoff: time.Millisecond})
	n, err := d.Flush(ctx)
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 delivered, got %d", n)
	}
	if len(notifier.sent) != 2 || notifier.sent[0].ID != "a" || notifier.sent[1].ID != "b" {
		t.Errorf("unexpected delivery order: %+v", notifier.sent)
	}

	pending, _ := store.Outbox().Pending(ctx, storage.PendingFilter{})
	if len(pending) != 1 || pending[0].ID != "bad" || pending[0].Attempts != 1 {
		t.Fatalf("expected failed entry to stay pending, got %+v", pending)
	}
	if pending[0].LastError == "" {
		t.Error("expected last error to be stored")
	}

	// Second failure exhausts the attempts.
	if _, err := d.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	pending, _ = store.Outbox().Pending(ctx, storage.PendingFilter{MaxAttempts: 2})
	if len(pending) != 0 {
		t.Errorf("expected exhausted entry to be excluded, got %d", len(pending))
	}
}

func TestDispatcher_RetriesTemporaryErrors(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStorage(domain.ChainIDStacksDevnet)
	enqueue(t, store, "flaky", 1)

	notifier := &flakyNotifier{failures: 2}
	d := NewDispatcher(store, notifier, DispatcherConfig{Backoff: time.Millisecond})

	n, err := d.Flush(ctx)
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if n != 1 || notifier.calls != 3 {
		t.Errorf("expected delivery on third call, delivered=%d calls=%d", n, notifier.calls)
	}
}

type flakyNotifier struct {
	failures int
	calls    int
}

func (f *flakyNotifier) Notify(ctx context.Context, n domain.Notification) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("connection reset")
	}
	return nil
}

func (f *flakyNotifier) Close() error { return nil }

func TestDispatcher_Confirmations(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStorage(domain.ChainIDStacksDevnet)
	notifier := newMockNotifier()

	enqueue(t, store, "deep", 100)
	enqueue(t, store, "shallow", 104)
	if err := store.Checkpoints().Append(ctx, &domain.Checkpoint{Height: 105, BlockHash: "0xtip"}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	d := NewDispatcher(store, notifier, DispatcherConfig{Confirmations: 3})
	n, err := d.Flush(ctx)
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if n != 1 || notifier.sent[0].ID != "deep" {
		t.Errorf("expected only the confirmed notification, got %+v", notifier.sent)
	}
}
