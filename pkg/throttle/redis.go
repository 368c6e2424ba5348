package throttle

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces throttle keys.
const DefaultRedisPrefix = "sessionguard:throttle:"

// hitScript counts one hit and returns {count, pttl}. The expiry is set on
// the first hit of a window and repaired if the key somehow lost its TTL.
var hitScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {n, ttl}
`)

// RedisGuard centralizes fixed-window counters in Redis so every instance
// sees the same count.
type RedisGuard struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisGuard wraps client. An empty prefix uses DefaultRedisPrefix.
func NewRedisGuard(client redis.UniversalClient, prefix string) *RedisGuard {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisGuard{client: client, prefix: prefix}
}

func (g *RedisGuard) Check(ctx context.Context, key string, p Policy) (Decision, error) {
	if err := p.Validate(); err != nil {
		return Decision{}, err
	}

	redisKey := g.prefix + p.Name + ":" + key
	res, err := hitScript.Run(ctx, g.client, []string{redisKey}, p.Window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("throttle: redis check: %w", err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("throttle: redis check: unexpected reply %v", res)
	}

	count, ttl := int(res[0]), time.Duration(res[1])*time.Millisecond
	if count > p.Max {
		if ttl <= 0 {
			ttl = time.Millisecond
		}
		return Decision{Allowed: false, RetryAfter: ttl}, nil
	}

	return Decision{Allowed: true, Remaining: p.Max - count}, nil
}

// Ping checks connectivity.
func (g *RedisGuard) Ping(ctx context.Context) error {
	return g.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (g *RedisGuard) Close() error {
	return g.client.Close()
}
