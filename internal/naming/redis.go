package naming

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// setNXer is the slice of the redis client the claimer needs.
type setNXer interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// RedisClaimer reserves names with SETNX so replicas writing into a shared
// destination never receive the same name.
type RedisClaimer struct {
	rdb    setNXer
	prefix string
	ttl    time.Duration
}

func NewRedisClaimer(rdb setNXer, prefix string, ttl time.Duration) *RedisClaimer {
	if prefix == "" {
		prefix = "names"
	}
	return &RedisClaimer{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (c *RedisClaimer) Claim(ctx context.Context, dir, name string) (bool, error) {
	return c.rdb.SetNX(ctx, c.key(dir, name), time.Now().UTC().Format(time.RFC3339Nano), c.ttl).Result()
}

func (c *RedisClaimer) key(dir, name string) string {
	return c.prefix + ":" + dir + ":" + name
}

// NewRedisNamer is a LocalNamer that also claims every name in redis.
func NewRedisNamer(rdb *redis.Client, prefix string, ttl time.Duration, opts ...Option) *LocalNamer {
	return NewLocalNamer(append(opts, WithClaimer(NewRedisClaimer(rdb, prefix, ttl)))...)
}
