package redisq

import (
	"context"
	"fmt"
	"time"

	"github.com/brk3/habitd/internal/logger"
	"github.com/redis/go-redis/v9"
)

// ConnectOptions defines the Redis connection and its retry behavior.
type ConnectOptions struct {
	Addr           string
	Password       string
	DB             int
	ConnectTimeout time.Duration // total time allowed for connection attempts
	RetryInterval  time.Duration // first wait between attempts, doubles each time
	MaxWait        time.Duration // cap on the wait between attempts
	PingTimeout    time.Duration
}

func (o ConnectOptions) withDefaults() ConnectOptions {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 30 * time.Second
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = time.Second
	}
	if o.MaxWait <= 0 {
		o.MaxWait = 10 * time.Second
	}
	if o.PingTimeout <= 0 {
		o.PingTimeout = 2 * time.Second
	}
	return o
}

// Connect opens a client and pings it until it answers or ConnectTimeout
// runs out, backing off exponentially between attempts.
func Connect(ctx context.Context, opts ConnectOptions) (*redis.Client, error) {
	opts = opts.withDefaults()
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()

	logger.Info("Connecting to redis", "addr", opts.Addr, "timeout", opts.ConnectTimeout)
	start := time.Now()
	wait := opts.RetryInterval
	for attempt := 1; ; attempt++ {
		pingCtx, pingCancel := context.WithTimeout(ctx, opts.PingTimeout)
		err := client.Ping(pingCtx).Err()
		pingCancel()
		if err == nil {
			if attempt > 1 {
				logger.Warn("Connected to redis after retry", "addr", opts.Addr, "attempts", attempt, "elapsed", time.Since(start))
			} else {
				logger.Info("Connected to redis", "addr", opts.Addr)
			}
			return client, nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			_ = client.Close()
			logger.Error("Redis unavailable", "addr", opts.Addr, "attempts", attempt, "error", err)
			return nil, fmt.Errorf("redis unavailable at %s after %d attempts: %w", opts.Addr, attempt, err)
		case <-timer.C:
			logger.Warn("Redis connection failed, retrying", "addr", opts.Addr, "attempt", attempt, "next_retry_in", wait, "error", err)
			wait = min(wait*2, opts.MaxWait)
		}
	}
}
