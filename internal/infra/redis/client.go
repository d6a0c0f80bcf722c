package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps the Redis operations shared by ingest replicas.
type Client struct {
	rdb *redis.Client
	cfg Config
}

// Config holds Redis connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	// LockTTL bounds how long a crashed replica can hold the ingest lock. It
	// must exceed the webhook timeout.
	LockTTL time.Duration `yaml:"lock_ttl"`
	// NotifyStream is the stream notifications are appended to. Empty disables it.
	NotifyStream string `yaml:"notify_stream"`
}

// NewClient creates a new Redis client.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = time.Minute
	}

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{rdb: rdb, cfg: cfg}, nil
}

// Health pings the server.
func (c *Client) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Key helpers
func lockKey(chainID string) string {
	return fmt.Sprintf("streamledger:ingest:%s", chainID)
}
