package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/ahrav/go-beacon/internal/ports"
)

// Defaults for the Redis lock.
const (
	DefaultLockTTL      = 30 * time.Second
	DefaultRetryBackoff = 100 * time.Millisecond
	DefaultKeyPrefix    = "beacon:runlock:"
)

// releaseScript deletes the key only if it still holds our token, so a
// holder whose lease expired cannot release someone else's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var _ ports.RunLock = (*Redis)(nil)

// RedisConfig configures a Redis-backed RunLock.
type RedisConfig struct {
	// TTL bounds how long a crashed holder keeps the lock.
	TTL time.Duration
	// RetryBackoff is the wait between acquisition attempts.
	RetryBackoff time.Duration
	// KeyPrefix namespaces lock keys.
	KeyPrefix string
}

// Redis is a RunLock shared by every process pointing at the same Redis.
// It uses SET NX PX with a random token and a compare-and-delete release.
type Redis struct {
	client  redis.UniversalClient
	ttl     time.Duration
	backoff time.Duration
	prefix  string
}

// NewRedis wraps an existing client. Zero config fields take defaults.
func NewRedis(client redis.UniversalClient, cfg RedisConfig) *Redis {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultLockTTL
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	return &Redis{
		client:  client,
		ttl:     cfg.TTL,
		backoff: cfg.RetryBackoff,
		prefix:  cfg.KeyPrefix,
	}
}

// Acquire polls until the key is set or ctx is done. Returns
// ports.ErrLockNotAcquired wrapping the context error on timeout.
func (r *Redis) Acquire(ctx context.Context, clientID string) (func(), error) {
	key := r.prefix + clientID
	token := uuid.NewString()

	ticker := time.NewTicker(r.backoff)
	defer ticker.Stop()

	for {
		ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			if ctx.Err() != nil {
				return nil, eris.Wrapf(errors.Join(ports.ErrLockNotAcquired, ctx.Err()), "lock %s", clientID)
			}
			return nil, eris.Wrapf(err, "redis lock: set %s", key)
		}
		if ok {
			return r.releaser(key, token), nil
		}

		select {
		case <-ctx.Done():
			return nil, eris.Wrapf(errors.Join(ports.ErrLockNotAcquired, ctx.Err()), "lock %s", clientID)
		case <-ticker.C:
		}
	}
}

func (r *Redis) releaser(key, token string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			// The caller's context may already be done.
			ctx, cancel := context.WithTimeout(context.Background(), r.ttl)
			defer cancel()
			_ = releaseScript.Run(ctx, r.client, []string{key}, token).Err()
		})
	}
}
