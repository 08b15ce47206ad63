package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/llmrouter/internal/core/domain"
)

const keyPrefix = "llmrouter:health:"

// Client wraps Redis operations for health snapshot export.
type Client struct {
	rdb *redis.Client
}

// Config holds Redis connection configuration.
type Config struct {
	URL             string        `yaml:"url"`
	Password        string        `yaml:"password"`
	PublishInterval time.Duration `yaml:"publish_interval"`
}

// HealthSnapshot is one replica's view of backend health.
type HealthSnapshot struct {
	Instance    string                                    `json:"instance"`
	PublishedAt time.Time                                 `json:"published_at"`
	Backends    map[domain.BackendKey]domain.HealthRecord `json:"backends"`
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

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

func snapshotKey(instance string) string {
	return keyPrefix + instance
}

// PublishSnapshot stores a replica's snapshot. It expires after ttl so
// replicas that stop publishing disappear.
func (c *Client) PublishSnapshot(ctx context.Context, snap HealthSnapshot, ttl time.Duration) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := c.rdb.Set(ctx, snapshotKey(snap.Instance), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set snapshot: %w", err)
	}
	return nil
}

// GetSnapshot reads one replica's snapshot.
func (c *Client) GetSnapshot(ctx context.Context, instance string) (*HealthSnapshot, error) {
	data, err := c.rdb.Get(ctx, snapshotKey(instance)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get failed: %w", err)
	}
	return decodeSnapshot(data)
}

// ListSnapshots reads every live replica's snapshot, ordered by instance.
func (c *Client) ListSnapshots(ctx context.Context) ([]HealthSnapshot, error) {
	var keys []string
	iter := c.rdb.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget failed: %w", err)
	}

	snaps := make([]HealthSnapshot, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			// expired between SCAN and MGET
			continue
		}
		snap, err := decodeSnapshot([]byte(s))
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, *snap)
	}
	sort.Slice(snaps, func(i, j int) bool {
		return strings.Compare(snaps[i].Instance, snaps[j].Instance) < 0
	})
	return snaps, nil
}

func decodeSnapshot(data []byte) (*HealthSnapshot, error) {
	var snap HealthSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("invalid snapshot: %w", err)
	}
	return &snap, nil
}
