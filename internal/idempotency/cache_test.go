package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"dispatchd/internal/storage/memstore"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewCache(memstore.New(), rdb, time.Hour, nil)
}

func TestUpsertIdempotencyCachesAcrossCalls(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	first := uuid.New()
	existing, adopted, err := c.UpsertIdempotency(ctx, "fp-1", first)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if adopted {
		t.Fatal("expected first caller to not adopt an existing id")
	}
	if existing != uuid.Nil {
		t.Fatalf("expected existing=%s for the first caller, got %s", uuid.Nil, existing)
	}

	second := uuid.New()
	existing, adopted, err = c.UpsertIdempotency(ctx, "fp-1", second)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if !adopted {
		t.Fatal("expected second caller with same fingerprint to adopt")
	}
	if existing != first {
		t.Fatalf("expected adopted id to be the first batch id %s, got %s", first, existing)
	}
}

func TestUpsertIdempotencyDistinctFingerprints(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	a := uuid.New()
	b := uuid.New()

	_, adoptedA, _ := c.UpsertIdempotency(ctx, "fp-a", a)
	_, adoptedB, _ := c.UpsertIdempotency(ctx, "fp-b", b)

	if adoptedA || adoptedB {
		t.Fatal("distinct fingerprints should never adopt each other's batch id")
	}
}
