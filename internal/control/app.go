package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/streamledger/internal/api"
	"github.com/vietddude/streamledger/internal/core/config"
	"github.com/vietddude/streamledger/internal/core/worker"
	"github.com/vietddude/streamledger/internal/indexing/decoder"
	"github.com/vietddude/streamledger/internal/indexing/emitter"
	"github.com/vietddude/streamledger/internal/indexing/health"
	"github.com/vietddude/streamledger/internal/indexing/reconciler"
	redisclient "github.com/vietddude/streamledger/internal/infra/redis"
	"github.com/vietddude/streamledger/internal/infra/storage"
	"github.com/vietddude/streamledger/internal/infra/storage/memory"
	"github.com/vietddude/streamledger/internal/infra/storage/postgres"
)

// App owns the ingest engine of one chain and its HTTP surface.
type App struct {
	cfg         *config.AppConfig
	store       storage.Store
	db          *postgres.DB
	redisClient *redisclient.Client
	reconciler  *reconciler.Reconciler
	dispatcher  *emitter.Dispatcher
	notifier    emitter.Notifier
	pruner      *worker.Pruner
	healthMon   *health.Monitor
	server      *health.Server
	log         *slog.Logger

	cancel context.CancelFunc
	group  *errgroup.Group
}

// OpenStore opens the ledger store configured in cfg. The returned DB is nil
// for in-memory storage.
func OpenStore(ctx context.Context, cfg *config.AppConfig) (storage.Store, *postgres.DB, error) {
	if cfg.Database.URL == "" {
		slog.Warn("No database configured, using in-memory storage")
		return memory.NewMemoryStorage(cfg.Chain.ChainID), nil, nil
	}

	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init db: %w", err)
	}
	if cfg.Database.Migrate {
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
	}
	slog.Info("Using PostgreSQL storage", "driver", cfg.Database.Driver)
	return postgres.NewStore(db, cfg.Chain.ChainID), db, nil
}

// NewApp creates the application with all dependencies initialized.
func NewApp(ctx context.Context, cfg *config.AppConfig) (*App, error) {
	store, db, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:   cfg,
		store: store,
		db:    db,
		log:   slog.Default().With("component", "app", "chain", cfg.Chain.ChainID),
	}

	var opts []reconciler.Option
	if cfg.Redis.URL != "" {
		a.redisClient, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		opts = append(opts, reconciler.WithLocker(
			redisclient.NewIngestLock(a.redisClient, string(cfg.Chain.ChainID)),
		))
	}

	a.reconciler = reconciler.New(store, decoder.New(cfg.Chain.Contracts), reconciler.Config{
		GenesisHeight:   cfg.Chain.GenesisHeight,
		AllowGaps:       cfg.Chain.AllowGaps,
		RetentionBlocks: cfg.Chain.RetentionBlocks,
	}, opts...)

	switch {
	case cfg.Notifications.URL != "":
		a.notifier = emitter.NewHTTPNotifier(cfg.Notifications.URL, cfg.Notifications.Token, 10*time.Second)
	case a.redisClient != nil && cfg.Redis.NotifyStream != "":
		a.notifier = redisclient.NewStreamNotifier(a.redisClient)
	default:
		a.notifier = emitter.NewLogNotifier()
	}

	a.dispatcher = emitter.NewDispatcher(store, a.notifier, emitter.DispatcherConfig{
		BatchSize:     cfg.Notifications.BatchSize,
		Interval:      cfg.Notifications.Interval,
		MaxAttempts:   cfg.Notifications.MaxAttempts,
		Confirmations: cfg.Notifications.Confirmations,
	})

	a.pruner = worker.NewPruner(worker.PrunerConfig{
		RetentionBlocks: cfg.Chain.RetentionBlocks,
		OutboxRetention: cfg.Notifications.Retention,
		Interval:        cfg.Chain.PruneInterval,
	}, store)

	a.healthMon = health.NewMonitor(health.MonitorConfig{
		StaleAfter: cfg.Chain.StaleAfter,
		CacheTTL:   5 * time.Second,
	}, store)
	if a.redisClient != nil {
		a.healthMon.AddDependency("redis", a.redisClient.Health)
	}

	a.server = health.NewServer(a.healthMon, cfg.Server.Port)
	api.NewGateway(a.reconciler, api.GatewayConfig{
		Secret:       cfg.Webhook.Secret,
		MaxBodyBytes: cfg.Webhook.MaxBodyBytes,
		Timeout:      cfg.Webhook.Timeout,
	}).Register(a.server)
	api.NewReader(store).Register(a.server)

	return a, nil
}

// Handler returns all HTTP routes of the app.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// Reconciler returns the ledger writer.
func (a *App) Reconciler() *reconciler.Reconciler { return a.reconciler }

// Start starts the HTTP server and background workers. It does not block.
func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	a.group = g

	g.Go(func() error {
		a.log.Info("Starting HTTP server", "port", a.cfg.Server.Port)
		if err := a.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error { return a.dispatcher.Start(gctx) })
	g.Go(func() error { return a.pruner.Start(gctx) })

	if a.db != nil {
		a.db.StartMetricsCollector(gctx)
	}

	return nil
}

// Wait blocks until a background component fails or the app is stopped.
func (a *App) Wait() error {
	if a.group == nil {
		return nil
	}
	return a.group.Wait()
}

// Stop gracefully shuts down all components.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping")

	var errs []error
	if a.cancel != nil {
		a.cancel()
	}
	if err := a.server.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop http server: %w", err))
	}
	if err := a.Wait(); err != nil {
		errs = append(errs, err)
	}
	if err := a.notifier.Close(); err != nil {
		errs = append(errs, err)
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
