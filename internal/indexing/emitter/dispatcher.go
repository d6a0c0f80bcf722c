package emitter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/vietddude/streamledger/internal/infra/storage"
	"github.com/vietddude/streamledger/internal/indexing/metrics"
)

// DispatcherConfig holds configuration for outbox delivery.
type DispatcherConfig struct {
	BatchSize   int
	Interval    time.Duration
	MaxAttempts int
	// Confirmations holds notifications back until their block is this deep
	// below the checkpoint tip, so short reorgs never reach users.
	Confirmations uint64
	// Backoff is the first in-flush retry delay.
	Backoff time.Duration
}

// Dispatcher delivers outbox entries to a Notifier. Delivery is at-least-once;
// notification ids let the receiver deduplicate.
type Dispatcher struct {
	store    storage.Store
	notifier Notifier
	config   DispatcherConfig
	log      *slog.Logger
	now      func() time.Time
}

// NewDispatcher creates a new outbox dispatcher.
func NewDispatcher(store storage.Store, notifier Notifier, config DispatcherConfig) *Dispatcher {
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.Interval <= 0 {
		config.Interval = 2 * time.Second
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 10
	}
	if config.Backoff <= 0 {
		config.Backoff = 200 * time.Millisecond
	}
	return &Dispatcher{
		store:    store,
		notifier: notifier,
		config:   config,
		log:      slog.Default().With("component", "dispatcher", "chain", store.ChainID()),
		now:      time.Now,
	}
}

// Start runs the delivery loop until ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) error {
	ticker := time.NewTicker(d.config.Interval)
	defer ticker.Stop()

	d.log.Info("Dispatcher started", "interval", d.config.Interval, "confirmations", d.config.Confirmations)

	for {
		select {
		case <-ctx.Done():
			d.log.Info("Dispatcher stopped")
			return nil
		case <-ticker.C:
			if _, err := d.Flush(ctx); err != nil && ctx.Err() == nil {
				d.log.Error("Dispatch failed", "error", err)
			}
		}
	}
}

// Flush delivers one batch of pending notifications and returns how many
// were delivered.
func (d *Dispatcher) Flush(ctx context.Context) (int, error) {
	filter := storage.PendingFilter{
		Limit:       d.config.BatchSize,
		MaxAttempts: d.config.MaxAttempts,
	}
	if d.config.Confirmations > 0 {
		latest, err := d.store.Checkpoints().Latest(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to get latest checkpoint: %w", err)
		}
		if latest == nil || latest.Height <= d.config.Confirmations {
			return 0, nil
		}
		filter.MaxHeight = latest.Height - d.config.Confirmations
	}

	entries, err := d.store.Outbox().Pending(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to load pending notifications: %w", err)
	}
	metrics.OutboxPending.Set(float64(len(entries)))

	delivered := 0
	for _, e := range entries {
		b := retry.NewExponential(d.config.Backoff)
		b = retry.WithMaxRetries(2, b)

		err := retry.Do(ctx, b, func(ctx context.Context) error {
			if err := d.notifier.Notify(ctx, e.Notification); err != nil {
				var se *StatusError
				if errors.As(err, &se) && !se.Temporary() {
					return err
				}
				return retry.RetryableError(err)
			}
			return nil
		})
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}

		if err != nil {
			metrics.NotificationsDelivered.WithLabelValues("failed").Inc()
			if mErr := d.store.Outbox().MarkFailed(ctx, e.ID, err.Error()); mErr != nil {
				return delivered, fmt.Errorf("failed to mark notification %s failed: %w", e.ID, mErr)
			}
			if e.Attempts+1 >= d.config.MaxAttempts {
				d.log.Error("Notification abandoned",
					"id", e.ID,
					"user", e.Notification.UserID,
					"attempts", e.Attempts+1,
					"error", err,
				)
			} else {
				d.log.Warn("Notification delivery failed", "id", e.ID, "error", err)
			}
			continue
		}

		if err := d.store.Outbox().MarkDelivered(ctx, e.ID, d.now()); err != nil {
			return delivered, fmt.Errorf("failed to mark notification %s delivered: %w", e.ID, err)
		}
		metrics.NotificationsDelivered.WithLabelValues("delivered").Inc()
		delivered++
	}

	return delivered, nil
}
