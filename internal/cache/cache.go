// Package cache provides a Redis-backed read-through cache for key
// lookups by token. A cache miss is never an error; callers fall back
// to the database.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mkserv/keyserv/internal/models"
)

const keyPrefix = "keyserv:key:"

// envelope carries the internal row identifiers that the model's API
// serialization deliberately omits.
type envelope struct {
	ID    int64       `json:"id"`
	AppID int64       `json:"app_id"`
	Key   *models.Key `json:"key"`
}

// KeyCache stores serialized keys in Redis with a short TTL.
type KeyCache struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// New creates a KeyCache. addr may be a plain host:port or a redis:// URL.
func New(addr string, ttl time.Duration, logger zerolog.Logger) (*KeyCache, error) {
	var client *redis.Client
	if opt, err := redis.ParseURL(addr); err == nil {
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: addr})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &KeyCache{
		client: client,
		ttl:    ttl,
		logger: logger.With().Str("component", "cache").Logger(),
	}, nil
}

// Get returns the cached key for token, or nil on a miss.
func (c *KeyCache) Get(ctx context.Context, token string) (*models.Key, error) {
	data, err := c.client.Get(ctx, keyPrefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cached key: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Key == nil {
		// Stale or corrupt entry, drop it and report a miss.
		c.logger.Warn().Err(err).Msg("dropping undecodable cache entry")
		_ = c.client.Del(ctx, keyPrefix+token).Err()
		return nil, nil
	}
	env.Key.ID = env.ID
	env.Key.AppID = env.AppID
	return env.Key, nil
}

// Set stores key under its token with the configured TTL.
func (c *KeyCache) Set(ctx context.Context, token string, key *models.Key) error {
	data, err := json.Marshal(envelope{ID: key.ID, AppID: key.AppID, Key: key})
	if err != nil {
		return fmt.Errorf("encode key for cache: %w", err)
	}
	if err := c.client.Set(ctx, keyPrefix+token, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache key: %w", err)
	}
	return nil
}

// Invalidate removes the cached entry for token, if any.
func (c *KeyCache) Invalidate(ctx context.Context, token string) error {
	if err := c.client.Del(ctx, keyPrefix+token).Err(); err != nil {
		return fmt.Errorf("invalidate cached key: %w", err)
	}
	return nil
}

// Close releases the underlying Redis connection.
func (c *KeyCache) Close() error {
	return c.client.Close()
}
