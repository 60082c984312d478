package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/manga-tracker/internal/config"
	"github.com/manga-tracker/internal/models"
)

// Redis key layout
const (
	KeyPrefixLastSync = "sync:last:"
	KeyPollLock       = "sync:poll:lock"

	// DefaultLastSyncTTL bounds how long a cached result outlives its source
	DefaultLastSyncTTL = 7 * 24 * time.Hour
)

// RedisCache wraps the Redis client
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new Redis cache connection
func NewRedisCache(cfg *config.RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.MaxConnections,
		MinIdleConns: 1,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// Close closes the Redis connection
func (r *RedisCache) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Client returns the underlying Redis client
func (r *RedisCache) Client() *redis.Client {
	return r.client
}

// Ping checks if Redis is reachable
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func lastSyncKey(sourceID int64) string {
	return fmt.Sprintf("%s%d", KeyPrefixLastSync, sourceID)
}

// RecordSyncLog caches the most recent sync log of a source
func (r *RedisCache) RecordSyncLog(ctx context.Context, l *models.SyncLog) error {
	data, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("failed to marshal sync log: %w", err)
	}
	if err := r.client.Set(ctx, lastSyncKey(l.SourceID), data, DefaultLastSyncTTL).Err(); err != nil {
		return fmt.Errorf("failed to cache sync log for source %d: %w", l.SourceID, err)
	}
	return nil
}

// LastSyncLog returns the cached most recent sync log, or nil when none is cached
func (r *RedisCache) LastSyncLog(ctx context.Context, sourceID int64) (*models.SyncLog, error) {
	data, err := r.client.Get(ctx, lastSyncKey(sourceID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read cached sync log for source %d: %w", sourceID, err)
	}

	var l models.SyncLog
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("failed to decode cached sync log: %w", err)
	}
	return &l, nil
}

// releaseScript deletes the lock only when it still holds our token
var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// RedisLock is a single-holder lease on a Redis key
type RedisLock struct {
	client redis.Cmdable
	key    string
	token  string
	ttl    time.Duration
}

// NewLock creates a lease on key. Each lock carries a unique token so it
// can only release a lease it acquired itself.
func (r *RedisCache) NewLock(key string, ttl time.Duration) *RedisLock {
	return &RedisLock{
		client: r.client,
		key:    key,
		token:  uuid.NewString(),
		ttl:    ttl,
	}
}

// Acquire takes the lease if nobody holds it
func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", l.key, err)
	}
	return ok, nil
}

// Release gives the lease back if it is still ours
func (l *RedisLock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to release lock %s: %w", l.key, err)
	}
	return nil
}
