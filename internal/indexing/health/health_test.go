package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vietddude/streamledger/internal/core/domain"
	"github.com/vietddude/streamledger/internal/infra/storage/memory"
)

// =============================================================================
// Helpers
// =============================================================================

func newStore(t *testing.T, failures int, processedAt time.Time) *memory.MemoryStorage {
	t.Helper()
	ctx := context.Background()
	store := memory.NewMemoryStorage(domain.ChainIDStacksDevnet)
	if err := store.Checkpoints().Append(ctx, &domain.Checkpoint{
		Height: 100, BlockHash: "0x100", ProcessedAt: processedAt,
	}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	for i := 0; i < failures; i++ {
		if err := store.Failures().Record(ctx, &domain.IngestFailure{
			Height:    uint64(200 + i),
			BlockHash: "0xbad",
			Kind:      domain.FailureKindInconsistency,
			Status:    domain.FailureStatusPending,
		}); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}
	return store
}

// =============================================================================
// Tests
// =============================================================================

func TestMonitor_Healthy(t *testing.T) {
	monitor := NewMonitor(MonitorConfig{StaleAfter: time.Hour}, newStore(t, 0, time.Now()))

	health := monitor.CheckHealth(context.Background())[string(domain.ChainIDStacksDevnet)]
	if health.Status != StatusHealthy {
		t.Errorf("expected healthy, got %s", health.Status)
	}
	if health.CheckpointHeight != 100 {
		t.Errorf("expected checkpoint 100, got %d", health.CheckpointHeight)
	}
}

func TestMonitor_Degraded(t *testing.T) {
	tests := []struct {
		name    string
		store   func(t *testing.T) *memory.MemoryStorage
		dep     Checker
		expects SystemStatus
	}{
		{
			name:    "pending failure",
			store:   func(t *testing.T) *memory.MemoryStorage { return newStore(t, 1, time.Now()) },
			expects: StatusDegraded,
		},
		{
			name:    "stale checkpoint",
			store:   func(t *testing.T) *memory.MemoryStorage { return newStore(t, 0, time.Now().Add(-2*time.Hour)) },
			expects: StatusDegraded,
		},
		{
			name:    "dependency down",
			store:   func(t *testing.T) *memory.MemoryStorage { return newStore(t, 0, time.Now()) },
			dep:     func(ctx context.Context) error { return errors.New("redis down") },
			expects: StatusDegraded,
		},
		{
			name:    "many failures",
			store:   func(t *testing.T) *memory.MemoryStorage { return newStore(t, 3, time.Now()) },
			expects: StatusCritical,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			monitor := NewMonitor(MonitorConfig{StaleAfter: time.Hour, CriticalFailures: 3}, tt.store(t))
			if tt.dep != nil {
				monitor.AddDependency("redis", tt.dep)
			}
			report := monitor.CheckHealth(context.Background())
			if got := report[string(domain.ChainIDStacksDevnet)].Status; got != tt.expects {
				t.Errorf("expected %s, got %s", tt.expects, got)
			}
		})
	}
}

func TestServer_Health(t *testing.T) {
	monitor := NewMonitor(MonitorConfig{CriticalFailures: 1}, newStore(t, 1, time.Now()))
	srv := NewServer(monitor, 0)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/detailed", nil))
	var report HealthReport
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if report.SystemStatus != StatusCritical || report.Chains[string(domain.ChainIDStacksDevnet)].PendingFailures != 1 {
		t.Errorf("unexpected report %+v", report)
	}
}
