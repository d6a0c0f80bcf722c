package health

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/streamledger/internal/core/domain"
	"github.com/vietddude/streamledger/internal/infra/storage"
)

// Source is the part of a ledger store the monitor inspects.
type Source interface {
	ChainID() domain.ChainID
	Health(ctx context.Context) error
	Checkpoints() storage.CheckpointRepository
	Failures() storage.FailureRepository
}

// Checker reports the health of a dependency such as Redis.
type Checker func(ctx context.Context) error

// MonitorConfig holds health thresholds.
type MonitorConfig struct {
	// StaleAfter degrades health when no block was applied for this long.
	// 0 disables the check.
	StaleAfter time.Duration
	// CriticalFailures is the number of pending ingest failures that makes the
	// chain critical.
	CriticalFailures int
	// CacheTTL rate limits checks.
	CacheTTL time.Duration
}

// Monitor aggregates health status from the ledger stores.
type Monitor struct {
	sources    []Source
	deps       map[string]Checker
	config     MonitorConfig
	now        func() time.Time
	lastCheck  time.Time
	lastReport map[string]ChainHealth
	mu         sync.Mutex
}

// NewMonitor creates a new health monitor.
func NewMonitor(config MonitorConfig, sources ...Source) *Monitor {
	if config.CriticalFailures <= 0 {
		config.CriticalFailures = 10
	}
	return &Monitor{
		sources:    sources,
		deps:       make(map[string]Checker),
		config:     config,
		now:        time.Now,
		lastReport: make(map[string]ChainHealth),
	}
}

// AddDependency registers a dependency checked with every chain.
func (m *Monitor) AddDependency(name string, check Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deps[name] = check
}

// CheckHealth performs a health check for all chains.
func (m *Monitor) CheckHealth(ctx context.Context) map[string]ChainHealth {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if m.config.CacheTTL > 0 && now.Sub(m.lastCheck) < m.config.CacheTTL && len(m.lastReport) > 0 {
		return m.lastReport
	}

	depErrors := make(map[string]string, len(m.deps))
	for name, check := range m.deps {
		status := "ok"
		if err := check(ctx); err != nil {
			status = err.Error()
		}
		depErrors[name] = status
	}

	report := make(map[string]ChainHealth, len(m.sources))
	for _, src := range m.sources {
		report[string(src.ChainID())] = m.check(ctx, src, depErrors, now)
	}

	m.lastCheck = now
	m.lastReport = report
	return report
}

func (m *Monitor) check(ctx context.Context, src Source, deps map[string]string, now time.Time) ChainHealth {
	health := ChainHealth{
		ChainID:      string(src.ChainID()),
		Status:       StatusHealthy,
		Dependencies: make(map[string]string, len(deps)+1),
		CheckedAt:    now,
	}
	for name, status := range deps {
		health.Dependencies[name] = status
	}

	// 1. Storage
	if err := src.Health(ctx); err != nil {
		health.Dependencies["storage"] = err.Error()
		health.Status = StatusCritical
		return health
	}
	health.Dependencies["storage"] = "ok"

	// 2. Checkpoint freshness
	stale := false
	cp, err := src.Checkpoints().Latest(ctx)
	if err != nil {
		health.Status = StatusDegraded
	} else if cp != nil {
		health.CheckpointHeight = cp.Height
		health.CheckpointHash = cp.BlockHash
		age := now.Sub(cp.ProcessedAt)
		health.CheckpointAge = age.Round(time.Second).String()
		stale = m.config.StaleAfter > 0 && age > m.config.StaleAfter
	}

	// 3. Pending failures
	if n, err := src.Failures().Count(ctx); err == nil {
		health.PendingFailures = n
	}

	depDown := false
	for _, status := range deps {
		if status != "ok" {
			depDown = true
		}
	}

	// Evaluate Status
	if health.PendingFailures >= m.config.CriticalFailures {
		health.Status = StatusCritical
	} else if health.PendingFailures > 0 || stale || depDown {
		health.Status = StatusDegraded
	}
	return health
}

// Aggregate returns the worst status in a report.
func Aggregate(report map[string]ChainHealth) SystemStatus {
	status := StatusHealthy
	for _, chain := range report {
		if chain.Status == StatusCritical {
			return StatusCritical
		}
		if chain.Status == StatusDegraded {
			status = StatusDegraded
		}
	}
	return status
}
