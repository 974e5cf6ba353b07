package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zeromicro/go-zero/core/logx"

	"github.com/nimbus-tales/aegis-gateway/internal/errs"
)

// minTTL guards against TTLs so short that a Redis round trip can outrace
// them, the same floor the teacher's token repository applies before every
// SET/EXPIRE.
const minTTL = 50 * time.Millisecond

// Config describes how to reach the shared Redis-compatible store.
type Config struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// RedisGateway implements Gateway against a real Redis (or Redis-protocol
// compatible) server via go-redis. It is the production backend for
// sessions, connection tickets, and rate-limit state.
type RedisGateway struct {
	client *redis.Client
}

// NewRedisGateway dials cfg and verifies connectivity with a bounded ping,
// mirroring third_party/cache's connection bootstrap.
func NewRedisGateway(cfg Config) (*RedisGateway, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		logx.Errorf("kv: failed to connect to redis: %v", err)
		return nil, fmt.Errorf("kv: connect: %w", err)
	}
	logx.Info("kv: connected to redis")
	return &RedisGateway{client: client}, nil
}

func clampTTL(ttl time.Duration) time.Duration {
	if ttl < minTTL {
		return minTTL
	}
	return ttl
}

func transient(op string, err error) error {
	return errs.Wrap(errs.TransientFailure, fmt.Errorf("kv: %s: %w", op, err))
}

func (g *RedisGateway) Get(ctx context.Context, key string) (string, error) {
	val, err := g.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", transient("get", err)
	}
	return val, nil
}

func (g *RedisGateway) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := g.client.Set(ctx, key, value, clampTTL(ttl)).Err(); err != nil {
		return transient("set", err)
	}
	return nil
}

func (g *RedisGateway) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := g.client.Del(ctx, keys...).Err(); err != nil {
		return transient("delete", err)
	}
	return nil
}

// IncrementWithExpiry performs the admission primitive C4 relies on: it
// increments the counter and arms its expiry only the first time the key
// is created. If the key already exists, a plain increment is sufficient
// and its existing expiry is left untouched — the fixed window must close
// on its own schedule, not re-arm on every hit (spec §4.4 step 2).
func (g *RedisGateway) IncrementWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	ttl = clampTTL(ttl)
	count, err := g.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, transient("increment_with_expiry", err)
	}
	if count == 1 {
		if err := g.client.Expire(ctx, key, ttl).Err(); err != nil {
			return count, transient("increment_with_expiry_arm", err)
		}
	}
	return count, nil
}

func (g *RedisGateway) SetAdd(ctx context.Context, key, value string) error {
	if err := g.client.SAdd(ctx, key, value).Err(); err != nil {
		return transient("set_add", err)
	}
	return nil
}

func (g *RedisGateway) SetRemove(ctx context.Context, key, value string) error {
	if err := g.client.SRem(ctx, key, value).Err(); err != nil {
		return transient("set_remove", err)
	}
	return nil
}

func (g *RedisGateway) SetMembers(ctx context.Context, key string) ([]string, error) {
	members, err := g.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, transient("set_members", err)
	}
	return members, nil
}

func (g *RedisGateway) MultiGet(ctx context.Context, keys ...string) ([]Entry, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	raw, err := g.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, transient("multi_get", err)
	}
	out := make([]Entry, len(keys))
	for i, k := range keys {
		if raw[i] == nil {
			out[i] = Entry{Key: k}
			continue
		}
		out[i] = Entry{Key: k, Value: raw[i].(string), Found: true}
	}
	return out, nil
}

func (g *RedisGateway) MultiDelete(ctx context.Context, keys ...string) error {
	return g.Delete(ctx, keys...)
}

func (g *RedisGateway) PExpire(ctx context.Context, key string, ttl time.Duration) error {
	if err := g.client.PExpire(ctx, key, clampTTL(ttl)).Err(); err != nil {
		return transient("pexpire", err)
	}
	return nil
}

func (g *RedisGateway) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := g.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, transient("ttl", err)
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// GetAndDelete performs the atomic redeem primitive C3 needs: read the
// value, delete the key, and report whether the key actually existed. It
// uses a Lua script so concurrent redeemers can never both succeed.
var getAndDeleteScript = redis.NewScript(`
local v = redis.call("GET", KEYS[1])
if v then
  redis.call("DEL", KEYS[1])
end
return v
`)

func (g *RedisGateway) GetAndDelete(ctx context.Context, key string) (string, bool, error) {
	res, err := getAndDeleteScript.Run(ctx, g.client, []string{key}).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, transient("get_and_delete", err)
	}
	if res == nil {
		return "", false, nil
	}
	return res.(string), true, nil
}

func (g *RedisGateway) Close() error {
	return g.client.Close()
}
