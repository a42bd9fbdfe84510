// Package redisclient wraps the redis connection used for three separate
// concerns: the per-patient accept guard, session tokens, and the change
// notification pub/sub channel. One client serves all three.
package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options carries the connection parameters resolved from REDIS_URL.
type Options struct {
	Addr     string
	Username string
	Password string
}

// Connect dials and pings so a bad address fails at startup, not on the
// first accept. Timeouts are tight: every redis call here sits on a user
// request path, and a slow answer is worse than a fast failure.
func Connect(ctx context.Context, opts Options) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Username:     opts.Username,
		Password:     opts.Password,
		DB:           0,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 1,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return rdb, nil
}
