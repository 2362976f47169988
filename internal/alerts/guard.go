package alerts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Guard is a per-subscription in-flight lock. Acquire reports ok=false when
// another run already holds key; release must be called when ok is true.
type Guard interface {
	Acquire(ctx context.Context, key string) (release func(), ok bool, err error)
}

// --------------------------------------------------------------------------
// In-process
// --------------------------------------------------------------------------

// LocalGuard serializes work within one process.
type LocalGuard struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocalGuard creates an empty in-process guard.
func NewLocalGuard() *LocalGuard {
	return &LocalGuard{held: make(map[string]struct{})}
}

func (g *LocalGuard) Acquire(_ context.Context, key string) (func(), bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.held[key]; busy {
		return nil, false, nil
	}
	g.held[key] = struct{}{}
	return func() {
		g.mu.Lock()
		delete(g.held, key)
		g.mu.Unlock()
	}, true, nil
}

// --------------------------------------------------------------------------
// Redis
// --------------------------------------------------------------------------

const guardPrefix = "breatheasy:inflight:"

// releaseScript deletes the key only if it still holds our token, so an
// expired lock re-acquired by another run is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisGuard shares the lock across processes with SET NX PX.
type RedisGuard struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisGuard wraps a client. ttl bounds how long a crashed holder keeps
// the lock.
func NewRedisGuard(client *redis.Client, ttl time.Duration) *RedisGuard {
	return &RedisGuard{client: client, ttl: ttl}
}

func (g *RedisGuard) Acquire(ctx context.Context, key string) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := g.client.SetNX(ctx, guardPrefix+key, token, g.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return func() {
		// The caller's context may already be done; release on a fresh one.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, g.client, []string{guardPrefix + key}, token).Err()
	}, true, nil
}

// NewGuard returns a RedisGuard when redisURL is set, otherwise a LocalGuard.
// The returned close func releases the Redis client.
func NewGuard(ctx context.Context, redisURL string, ttl time.Duration) (Guard, func() error, error) {
	if redisURL == "" {
		return NewLocalGuard(), func() error { return nil }, nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisGuard(client, ttl), client.Close, nil
}
