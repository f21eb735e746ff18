package cadastre

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/stwalsh4118/plotsync/internal/logger"
	"github.com/stwalsh4118/plotsync/internal/models"
)

// KeyPrefix namespaces cached lookups in Redis.
const KeyPrefix = "plotsync:cadastre:"

// Resolver is the lookup contract shared by Client and CachedLookup.
type Resolver interface {
	Resolve(ctx context.Context, cadastral string) (*models.CadastralInfo, error)
}

// CachedLookup stores successful lookups in Redis. Failures are never cached
// and Redis errors fall through to the wrapped lookup.
type CachedLookup struct {
	next  Resolver
	redis *redis.Client
	log   *logger.Logger
	ttl   time.Duration
}

// NewCachedLookup wraps next with a Redis cache.
func NewCachedLookup(next Resolver, client *redis.Client, ttl time.Duration, log *logger.Logger) *CachedLookup {
	if log == nil {
		log = logger.Nop()
	}
	return &CachedLookup{next: next, redis: client, ttl: ttl, log: log}
}

// Resolve returns the cached answer when present, else asks the wrapped lookup.
func (c *CachedLookup) Resolve(ctx context.Context, cadastral string) (*models.CadastralInfo, error) {
	key := KeyPrefix + cadastral

	cached, err := c.redis.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var info models.CadastralInfo
		if jsonErr := json.Unmarshal(cached, &info); jsonErr == nil {
			return &info, nil
		}
		c.log.Warn("discarding unreadable cache entry", map[string]interface{}{"key": key})
	case errors.Is(err, redis.Nil):
	default:
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.log.Warn("cadastral cache read failed", map[string]interface{}{"key": key, "error": err.Error()})
	}

	info, err := c.next.Resolve(ctx, cadastral)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("failed to encode cadastral info: %w", err)
	}
	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.log.Warn("cadastral cache write failed", map[string]interface{}{"key": key, "error": err.Error()})
	}
	return info, nil
}

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", addr, err)
	}
	return client, nil
}
