package domain

import "time"

type NotificationType string

const (
	NotificationStreamCreated    NotificationType = "stream_created"
	NotificationStreamWithdrawal NotificationType = "stream_withdrawal"
	NotificationStreamCancelled  NotificationType = "stream_cancelled"
	NotificationStreamReverted   NotificationType = "stream_reverted"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Notification is the request handed to the external notification service.
type Notification struct {
	ID       string           `json:"id"`
	UserID   string           `json:"userId"`
	Type     NotificationType `json:"type"`
	Priority Priority         `json:"priority"`
	Title    string           `json:"title"`
	Message  string           `json:"message"`
	Data     map[string]any   `json:"data,omitempty"`
}

// OutboxEntry is a notification queued in the same transaction as the ledger write
// that produced it.
type OutboxEntry struct {
	ID           string
	BlockHash    string
	BlockHeight  uint64
	Notification Notification
	Attempts     int
	LastError    string
	CreatedAt    time.Time
	DeliveredAt  *time.Time
}

func (e *OutboxEntry) Delivered() bool { return e.DeliveredAt != nil }
