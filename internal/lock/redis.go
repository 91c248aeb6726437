package lock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/54b3r/kbgraph-go/internal/logging"
)

const (
	// defaultTTL bounds how long a crashed holder can keep a kb locked.
	defaultTTL = 2 * time.Minute

	// defaultRetry is the initial wait between acquisition attempts.
	defaultRetry = 50 * time.Millisecond

	// maxRetry caps the exponential back-off between attempts.
	maxRetry = time.Second
)

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the lease only while the key still holds our token.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisConfig holds connection settings for a RedisLocker.
type RedisConfig struct {
	// Addr is the redis host:port.
	Addr string
	// Password is the optional AUTH password.
	Password string
	// DB selects the logical database.
	DB int
	// Prefix namespaces lock keys (default: "kbg:lock:").
	Prefix string
	// TTL is the lock lease (default: 2m). A held lock is renewed every
	// TTL/3, so the lease only lapses when the holder dies.
	TTL time.Duration
}

// RedisLocker is a Locker backed by redis SET NX with a per-holder token.
type RedisLocker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisLocker connects to redis and verifies reachability with PING.
func NewRedisLocker(ctx context.Context, cfg *RedisConfig) (*RedisLocker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("lock: redis ping %s: %w", cfg.Addr, err)
	}
	return newRedisLocker(client, cfg), nil
}

func newRedisLocker(client *redis.Client, cfg *RedisConfig) *RedisLocker {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "kbg:lock:"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisLocker{client: client, prefix: prefix, ttl: ttl}
}

// Lock polls SET NX until it wins or ctx is done. While held, the lease is
// renewed in the background until unlock is called.
func (r *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	k := r.prefix + key
	token := uuid.NewString()
	wait := defaultRetry

	for {
		ok, err := r.client.SetNX(ctx, k, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("lock: redis setnx %s: %w", k, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("lock: waiting for %s: %w", k, ctx.Err())
		case <-time.After(wait):
		}
		wait = min(wait*2, maxRetry)
	}

	log := logging.FromContext(ctx)
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Go(func() { r.keepAlive(log, k, token, stop) })

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			wg.Wait()
			// Release on a fresh context so a cancelled request still frees the key.
			relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(relCtx, r.client, []string{k}, token).Err(); err != nil {
				log.Warn("lock: release failed, key expires with its lease",
					slog.String("key", k),
					slog.Duration("ttl", r.ttl),
					slog.Any("error", err),
				)
			}
		})
	}, nil
}

// keepAlive renews the lease on k every ttl/3 until stop is closed. It gives
// up once the key no longer holds token.
func (r *RedisLocker) keepAlive(log *slog.Logger, k, token string, stop <-chan struct{}) {
	ticker := time.NewTicker(max(r.ttl/3, time.Millisecond))
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), r.ttl/3+time.Second)
		n, err := renewScript.Run(ctx, r.client, []string{k}, token, r.ttl.Milliseconds()).Int()
		cancel()
		switch {
		case err != nil:
			log.Warn("lock: lease renewal failed", slog.String("key", k), slog.Any("error", err))
		case n == 0:
			log.Error("lock: lease lost while held", slog.String("key", k))
			return
		}
	}
}

// Ping reports whether redis is reachable. Satisfies server.Pinger.
func (r *RedisLocker) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Name returns the dependency label used in readiness responses.
func (r *RedisLocker) Name() string { return "redis" }

// Close releases the redis connection pool.
func (r *RedisLocker) Close() error {
	return r.client.Close()
}
