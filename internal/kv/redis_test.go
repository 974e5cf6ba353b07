package kv

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisGateway(t *testing.T) (*RedisGateway, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return &RedisGateway{client: client}, mr
}

func TestIncrementWithExpiryArmsTTLOnlyOnFirstWrite(t *testing.T) {
	g, mr := newTestRedisGateway(t)
	ctx := context.Background()

	count, err := g.IncrementWithExpiry(ctx, "bucket", time.Minute)
	if err != nil {
		t.Fatalf("first increment: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected count 1, got %d", count)
	}
	firstTTL, err := g.client.TTL(ctx, "bucket").Result()
	if err != nil {
		t.Fatalf("ttl: %v", err)
	}
	if firstTTL <= 0 {
		t.Fatalf("expected TTL to be armed on first write, got %v", firstTTL)
	}

	// Move the armed TTL down so a re-arm would be observable: miniredis
	// TTLs only advance through FastForward, and TTL reports whole seconds.
	mr.FastForward(time.Second)

	count, err = g.IncrementWithExpiry(ctx, "bucket", time.Minute)
	if err != nil {
		t.Fatalf("second increment: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected count 2, got %d", count)
	}
	secondTTL, err := g.client.TTL(ctx, "bucket").Result()
	if err != nil {
		t.Fatalf("ttl: %v", err)
	}
	if secondTTL >= firstTTL {
		t.Fatalf("expected existing expiry to be left untouched by a repeat increment, firstTTL=%v secondTTL=%v", firstTTL, secondTTL)
	}
}
