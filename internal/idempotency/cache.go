// Package idempotency implements the Redis-backed fast-path cache (C13)
// sitting in front of a storage.Store's idempotency table, mirroring the
// teacher's internal/idempotency/store.go Redis-first-fallback shape
// (GetMessageID/StoreMessageID), generalized from message IDs to batch
// IDs keyed by fingerprint.
package idempotency

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"dispatchd/internal/storage"
)

// Cache decorates a storage.Store, answering UpsertIdempotency from
// Redis when possible and falling through to the inner store (and
// populating Redis) on a cache miss. Every other storage.Store method
// is forwarded unchanged via embedding.
type Cache struct {
	storage.Store
	redis  *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewCache(inner storage.Store, rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Cache {
	return &Cache{Store: inner, redis: rdb, ttl: ttl, logger: logger}
}

func (c *Cache) UpsertIdempotency(ctx context.Context, fingerprint string, candidate uuid.UUID) (uuid.UUID, bool, error) {
	key := cacheKey(fingerprint)

	if cached, err := c.redis.Get(ctx, key).Result(); err == nil {
		if id, err := uuid.Parse(cached); err == nil {
			return id, true, nil
		}
	}

	existing, adopted, err := c.Store.UpsertIdempotency(ctx, fingerprint, candidate)
	if err != nil {
		return existing, adopted, err
	}

	batchID := candidate
	if adopted {
		batchID = existing
	}
	if err := c.redis.Set(ctx, key, batchID.String(), c.ttl).Err(); err != nil && c.logger != nil {
		c.logger.Warn("failed to cache idempotency fingerprint", zap.Error(err))
	}

	return existing, adopted, nil
}

func cacheKey(fingerprint string) string {
	return "idempotency:" + fingerprint
}
