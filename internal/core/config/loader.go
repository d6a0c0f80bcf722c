package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"github.com/vietddude/streamledger/internal/core/domain"
)

// Load reads configuration from a YAML file. A .env file next to the working
// directory is loaded first when present.
func Load(path string) (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *AppConfig) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Chain.ChainID == "" {
		c.Chain.ChainID = domain.ChainIDStacksMainnet
	}
	if c.Chain.RetentionBlocks == 0 {
		c.Chain.RetentionBlocks = 1000
	}
	if c.Chain.PruneInterval == 0 {
		c.Chain.PruneInterval = 10 * time.Minute
	}
	if c.Webhook.MaxBodyBytes == 0 {
		c.Webhook.MaxBodyBytes = 8 << 20
	}
	if c.Webhook.Timeout == 0 {
		c.Webhook.Timeout = 30 * time.Second
	}
	if c.Redis.LockTTL == 0 {
		c.Redis.LockTTL = 2 * c.Webhook.Timeout
	}
	if c.Notifications.BatchSize == 0 {
		c.Notifications.BatchSize = 100
	}
	if c.Notifications.Interval == 0 {
		c.Notifications.Interval = 2 * time.Second
	}
	if c.Notifications.MaxAttempts == 0 {
		c.Notifications.MaxAttempts = 10
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks settings required to serve webhooks.
func (c *AppConfig) Validate() error {
	if c.Webhook.Secret == "" {
		return errors.New("webhook.secret is required")
	}
	if c.Redis.LockTTL > 0 && c.Redis.URL != "" && c.Redis.LockTTL <= c.Webhook.Timeout {
		return fmt.Errorf("redis.lock_ttl (%s) must exceed webhook.timeout (%s)", c.Redis.LockTTL, c.Webhook.Timeout)
	}
	return nil
}
