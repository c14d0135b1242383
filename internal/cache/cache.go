package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/therealutkarshpriyadarshi/vision/internal/stream"
	"github.com/therealutkarshpriyadarshi/vision/pkg/models"
)

const statisticsKey = "vision:stats:streams"

// Cache provides caching functionality using Redis
type Cache struct {
	client *redis.Client
}

var _ stream.StatsCache = (*Cache)(nil)

// NewCache creates a new cache instance
func NewCache(host string, port int, password string, db int) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Cache{client: client}, nil
}

// Client exposes the underlying connection for sibling components such as the
// distributed locker
func (c *Cache) Client() *redis.Client {
	return c.client
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}

// Statistics Cache Operations

// SetStatistics caches the registry rollup
func (c *Cache) SetStatistics(ctx context.Context, stats *models.StreamStatistics, ttl time.Duration) error {
	return c.SetWithJSON(ctx, statisticsKey, stats, ttl)
}

// GetStatistics retrieves the registry rollup. A miss returns (nil, nil).
func (c *Cache) GetStatistics(ctx context.Context) (*models.StreamStatistics, error) {
	var stats models.StreamStatistics
	found, err := c.GetWithJSON(ctx, statisticsKey, &stats)
	if err != nil || !found {
		return nil, err
	}
	return &stats, nil
}

// InvalidateStatistics drops the cached rollup
func (c *Cache) InvalidateStatistics(ctx context.Context) error {
	return c.client.Del(ctx, statisticsKey).Err()
}

// SetWithJSON sets a value with JSON marshaling
func (c *Cache) SetWithJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

// GetWithJSON gets a value with JSON unmarshaling and reports whether the key
// was present
func (c *Cache) GetWithJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return false, nil // Cache miss
		}
		return false, fmt.Errorf("failed to get value from cache: %w", err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal value: %w", err)
	}

	return true, nil
}

// Ping is the health check
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
