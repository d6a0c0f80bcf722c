package emitter

import (
	"context"
	"log/slog"

	"github.com/vietddude/streamledger/internal/core/domain"
)

// Notifier hands a notification to the external notification service.
type Notifier interface {
	// Notify delivers a single notification
	Notify(ctx context.Context, n domain.Notification) error

	// Close closes the notifier connection
	Close() error
}

// LogNotifier only logs notifications. It is used when no notification
// service is configured.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{log: slog.Default().With("component", "notifier")}
}

func (l *LogNotifier) Notify(ctx context.Context, n domain.Notification) error {
	l.log.Info("Notification",
		"id", n.ID,
		"user", n.UserID,
		"type", n.Type,
		"title", n.Title,
	)
	return nil
}

func (l *LogNotifier) Close() error { return nil }
