package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrAcceptInFlight = errors.New("accept already in flight for patient")
)

// Guard serializes accept attempts per patient so a second request for the
// same patient fails fast instead of racing the database transaction.
type Guard interface {
	WithPatientGuard(ctx context.Context, patientID uuid.UUID, fn func(ctx context.Context) error) error
}

type redisPatientGuard struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisPatientGuard creates a guard backed by a per patient Redis key.
func NewRedisPatientGuard(client *redis.Client, ttl time.Duration) Guard {
	return &redisPatientGuard{
		client: client,
		ttl:    ttl,
	}
}

func (g *redisPatientGuard) WithPatientGuard(ctx context.Context, patientID uuid.UUID, fn func(ctx context.Context) error) error {
	key := fmt.Sprintf("guard:accept:%s", patientID.String())
	token := uuid.NewString()

	ok, err := g.client.SetNX(ctx, key, token, g.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire accept guard: %w", err)
	}
	if !ok {
		return ErrAcceptInFlight
	}

	defer func() {
		_ = g.release(ctx, key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, g.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (g *redisPatientGuard) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, g.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release accept guard: %w", err)
	}
	return nil
}
