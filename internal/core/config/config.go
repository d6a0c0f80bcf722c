package config

import (
	"time"

	"github.com/vietddude/streamledger/internal/core/domain"
	redisclient "github.com/vietddude/streamledger/internal/infra/redis"
	"github.com/vietddude/streamledger/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server        ServerConfig       `yaml:"server"`
	Chain         ChainConfig        `yaml:"chain"`
	Webhook       WebhookConfig      `yaml:"webhook"`
	Database      postgres.Config    `yaml:"database"`
	Redis         redisclient.Config `yaml:"redis"`
	Notifications NotifyConfig       `yaml:"notifications"`
	Logging       LoggingConfig      `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// ChainConfig holds settings for the monitored chain.
type ChainConfig struct {
	ChainID       domain.ChainID `yaml:"id"`
	GenesisHeight uint64         `yaml:"genesis_height"`
	// Contracts whose print events are decoded; empty accepts all.
	Contracts       []string      `yaml:"contracts"`
	AllowGaps       bool          `yaml:"allow_gaps"`
	RetentionBlocks uint64        `yaml:"retention_blocks"`
	PruneInterval   time.Duration `yaml:"prune_interval"`
	StaleAfter      time.Duration `yaml:"stale_after"` // 0 = never stale
}

// WebhookConfig holds ingress settings.
type WebhookConfig struct {
	Secret       string        `yaml:"secret"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
	Timeout      time.Duration `yaml:"timeout"`
}

// NotifyConfig holds outbox delivery settings.
type NotifyConfig struct {
	URL           string        `yaml:"url"` // empty = redis stream or log only
	Token         string        `yaml:"token"`
	BatchSize     int           `yaml:"batch_size"`
	Interval      time.Duration `yaml:"interval"`
	MaxAttempts   int           `yaml:"max_attempts"`
	Confirmations uint64        `yaml:"confirmations"`
	Retention     time.Duration `yaml:"retention"` // delivered rows; 0 = keep
}
