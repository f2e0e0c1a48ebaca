package lock

import (
	"context"
	"fmt"
	"time"

	"cr-go/internal/config"
	"cr-go/internal/cr"
)

// NewLockerFromConfig creates a Locker based on the configured backend. The
// returned close function releases any connection the backend holds.
func NewLockerFromConfig(ctx context.Context, cfg config.LocksConfig, logger cr.Logger, metrics *Metrics) (cr.Locker, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Backend {
	case "memory", "":
		return NewManager(cfg.LockTimeout(), logger, metrics), noop, nil
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, noop, fmt.Errorf("redis locks require redis_addr to be set")
		}
		client, err := DialRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, noop, err
		}
		opts := RedisOptions{
			Prefix:  cfg.RedisPrefix,
			TTL:     time.Duration(cfg.RedisTTLMS) * time.Millisecond,
			Poll:    time.Duration(cfg.RedisPollMS) * time.Millisecond,
			Timeout: cfg.LockTimeout(),
		}
		return NewRedisLocker(client, opts, cr.UUIDGenerator{}, logger, metrics), client.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown lock backend: %q", cfg.Backend)
	}
}
