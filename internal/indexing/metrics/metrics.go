package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookRequests tracks webhook deliveries by outcome
	WebhookRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamledger_webhook_requests_total",
			Help: "Total number of webhook deliveries by HTTP status",
		},
		[]string{"status"},
	)

	// WebhookLatency tracks end-to-end delivery handling time
	WebhookLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "streamledger_webhook_latency_seconds",
			Help:    "Webhook handling latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	// BlocksApplied tracks blocks committed to the ledger
	BlocksApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamledger_blocks_applied_total",
			Help: "Total number of blocks applied",
		},
		[]string{"chain"},
	)

	// BlocksRolledBack tracks blocks compensated after a reorg
	BlocksRolledBack = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamledger_blocks_rolled_back_total",
			Help: "Total number of blocks rolled back",
		},
		[]string{"chain"},
	)

	// EventsApplied tracks stream events applied per type
	EventsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamledger_events_applied_total",
			Help: "Total number of stream events applied",
		},
		[]string{"chain", "event"},
	)

	// EventsSkipped tracks events not applied and why
	EventsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamledger_events_skipped_total",
			Help: "Total number of events skipped",
		},
		[]string{"chain", "reason"},
	)

	// Alerts tracks operator-visible ingest failures
	Alerts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamledger_alerts_total",
			Help: "Total number of ingest failures requiring attention",
		},
		[]string{"chain", "kind"},
	)

	// BlockApplyLatency tracks the duration of one block's unit of work
	BlockApplyLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "streamledger_block_apply_seconds",
			Help:    "Block application latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"chain", "op"},
	)

	// CheckpointHeight tracks the latest applied block
	CheckpointHeight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "streamledger_checkpoint_height",
			Help: "Height of the latest checkpointed block",
		},
		[]string{"chain"},
	)

	// NotificationsDelivered tracks outbox deliveries
	NotificationsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamledger_notifications_total",
			Help: "Total number of outbox notifications by delivery result",
		},
		[]string{"result"},
	)

	// OutboxPending tracks undelivered notifications seen by the last dispatch
	OutboxPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "streamledger_outbox_pending",
			Help: "Undelivered notifications in the last dispatch batch",
		},
	)

	// DBConnectionPoolUsage tracks open connections as a percentage of the pool
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "streamledger_db_connection_pool_usage_percent",
			Help: "Database connection pool usage",
		},
	)

	// DBErrors tracks transaction-level database errors
	DBErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamledger_db_errors_total",
			Help: "Total number of database transaction errors",
		},
		[]string{"op"},
	)
)
