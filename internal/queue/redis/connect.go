package redisqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	redisv8 "github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/ltphuoc/media-scraper/internal/media"
	"github.com/ltphuoc/media-scraper/internal/metrics"
	"github.com/ltphuoc/media-scraper/internal/policy/retry"
)

// Connection retry defaults: attempt n waits min(n*500ms, 5s).
const (
	DefaultMaxReconnects = 10
	DefaultReconnectStep = 500 * time.Millisecond
	DefaultReconnectMax  = 5 * time.Second
)

// ConnConfig describes the Redis connection and its startup retry policy.
type ConnConfig struct {
	Addr          string
	Password      string
	DB            int
	MaxReconnects int
	ReconnectStep time.Duration
	ReconnectMax  time.Duration
}

func (c ConnConfig) policy() retry.Linear {
	p := retry.Linear{Attempts: c.MaxReconnects, Step: c.ReconnectStep, Max: c.ReconnectMax}
	if p.Attempts <= 0 {
		p.Attempts = DefaultMaxReconnects
	}
	if p.Step <= 0 {
		p.Step = DefaultReconnectStep
	}
	if p.Max <= 0 {
		p.Max = DefaultReconnectMax
	}
	return p
}

// Connect opens a go-redis client and waits until the server answers PING.
// It gives up with *media.QueueConnectionError once the attempts run out.
func Connect(ctx context.Context, cfg ConnConfig, logger *zap.Logger) (*redisv8.Client, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis.addr is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redisv8.NewClient(&redisv8.Options{
		Addr:            cfg.Addr,
		Password:        cfg.Password,
		DB:              cfg.DB,
		MinRetryBackoff: DefaultReconnectStep,
		MaxRetryBackoff: DefaultReconnectMax,
	})
	ping := func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
	if err := waitReady(ctx, cfg, ping, logger.Named("redis")); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func waitReady(ctx context.Context, cfg ConnConfig, ping func(context.Context) error, logger *zap.Logger) error {
	policy := cfg.policy()
	attempt := func(ctx context.Context) error {
		metrics.ObserveQueueConnectAttempt()
		return ping(ctx)
	}
	err := policy.Do(ctx, attempt, func(n int, delay time.Duration, err error) {
		logger.Warn("redis not reachable, retrying",
			zap.String("addr", cfg.Addr),
			zap.Int("attempt", n),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	})
	if err == nil {
		return nil
	}
	attempts := policy.Attempts
	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		attempts = exhausted.Attempts
		err = exhausted.Err
	}
	logger.Error("redis unreachable", zap.String("addr", cfg.Addr), zap.Int("attempts", attempts), zap.Error(err))
	return &media.QueueConnectionError{Addr: cfg.Addr, Attempts: attempts, Err: err}
}
