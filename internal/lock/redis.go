package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"cr-go/internal/cr"
)

const (
	DefaultRedisPrefix = "cr:lock:"
	DefaultRedisTTL    = 30 * time.Second
	DefaultRedisPoll   = 25 * time.Millisecond
)

// release and refresh only touch the key while it still carries our token,
// so an expired lease taken over by another process is left alone.
var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// RedisOptions configures a RedisLocker.
type RedisOptions struct {
	Prefix  string
	TTL     time.Duration // lease length, refreshed while fn runs
	Poll    time.Duration // retry interval while the key is taken
	Timeout time.Duration // default wait
}

// RedisLocker is a cr.Locker whose keys live in Redis, so processes sharing
// a repository database serialize against each other. Keys are taken with
// SET NX PX and a random token; waiters poll until the timeout. Unlike
// Manager, waiters are not served in arrival order.
type RedisLocker struct {
	client  redis.Cmdable
	opts    RedisOptions
	ids     cr.IDGenerator
	logger  cr.Logger
	metrics *Metrics
}

// NewRedisLocker creates a RedisLocker on an existing client.
func NewRedisLocker(client redis.Cmdable, opts RedisOptions, ids cr.IDGenerator, logger cr.Logger, metrics *Metrics) *RedisLocker {
	if opts.Prefix == "" {
		opts.Prefix = DefaultRedisPrefix
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultRedisTTL
	}
	if opts.Poll <= 0 {
		opts.Poll = DefaultRedisPoll
	}
	if opts.Timeout <= 0 {
		opts.Timeout = cr.DefaultLockTimeout
	}
	if logger == nil {
		logger = cr.NewNopLogger()
	}
	return &RedisLocker{client: client, opts: opts, ids: ids, logger: logger, metrics: metrics}
}

// DialRedis opens a client and checks the server answers.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: 2 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}
	return client, nil
}

// ExecuteLocked implements cr.Locker.
func (l *RedisLocker) ExecuteLocked(ctx context.Context, key cr.LockKey, timeout time.Duration, fn func(ctx context.Context) error) error {
	if isHeld(ctx, l, key) {
		l.metrics.observe("redis", OutcomeReentrant, 0)
		return fn(ctx)
	}
	if timeout <= 0 {
		timeout = l.opts.Timeout
	}

	name := l.opts.Prefix + string(key)
	token := l.ids.New()
	start := time.Now()
	deadline := start.Add(timeout)

	for {
		ok, err := l.client.SetNX(ctx, name, token, l.opts.TTL).Result()
		if err != nil {
			if ctx.Err() != nil {
				l.metrics.observe("redis", OutcomeCanceled, 0)
				return fmt.Errorf("waiting for lock %s: %w", key, ctx.Err())
			}
			l.metrics.observe("redis", OutcomeError, 0)
			return fmt.Errorf("acquiring lock %s: %w", key, err)
		}
		if ok {
			break
		}
		if !time.Now().Before(deadline) {
			l.metrics.observe("redis", OutcomeTimeout, 0)
			l.logger.Warn("lock timeout", "key", string(key), "timeout", timeout, "backend", "redis")
			return &cr.LockTimeoutError{Key: key, Timeout: timeout}
		}

		wait := min(l.opts.Poll, time.Until(deadline))
		select {
		case <-ctx.Done():
			l.metrics.observe("redis", OutcomeCanceled, 0)
			return fmt.Errorf("waiting for lock %s: %w", key, ctx.Err())
		case <-time.After(wait):
		}
	}

	l.metrics.observe("redis", OutcomeAcquired, time.Since(start))
	l.metrics.hold(1)
	defer l.metrics.hold(-1)

	stop := l.keepAlive(name, token)
	defer func() {
		stop()
		// Released on a fresh context so a canceled caller still frees the key.
		relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(relCtx, l.client, []string{name}, token).Err(); err != nil {
			l.logger.Error("releasing lock", "key", string(key), "error", err)
		}
	}()

	return fn(withHeld(ctx, l, key))
}

// keepAlive extends the lease every TTL/3 until stop is called.
func (l *RedisLocker) keepAlive(name, token string) (stop func()) {
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(l.opts.TTL / 3)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), l.opts.TTL/3)
				err := refreshScript.Run(ctx, l.client, []string{name}, token, l.opts.TTL.Milliseconds()).Err()
				cancel()
				if err != nil {
					l.logger.Warn("refreshing lock lease", "key", name, "error", err)
				}
			}
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}

var _ cr.Locker = (*RedisLocker)(nil)
