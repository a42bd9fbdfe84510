package notify

import (
	"context"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const channelPrefix = "changes:"

// RedisBroker implements both Source and Publisher over redis pub/sub,
// one channel per table.
type RedisBroker struct {
	client *redis.Client
	log    zerolog.Logger
}

func NewRedisBroker(client *redis.Client, log zerolog.Logger) *RedisBroker {
	return &RedisBroker{client: client, log: log}
}

func (b *RedisBroker) Publish(ctx context.Context, table string) error {
	return b.client.Publish(ctx, channelPrefix+table, "1").Err()
}

func (b *RedisBroker) Subscribe(ctx context.Context, tables []string, h Handler) (Subscription, error) {
	channels := make([]string, len(tables))
	for i, t := range tables {
		channels[i] = channelPrefix + t
	}

	pubsub := b.client.Subscribe(ctx, channels...)

	// Receive forces the SUBSCRIBE round trip so setup failures surface
	// here instead of silently on the message loop.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	sub := &redisSubscription{pubsub: pubsub}

	go func() {
		for msg := range pubsub.Channel() {
			h(strings.TrimPrefix(msg.Channel, channelPrefix))
		}
		b.log.Debug().Strs("tables", tables).Msg("notification channel closed")
	}()

	return sub, nil
}

type redisSubscription struct {
	pubsub *redis.PubSub
	once   sync.Once
}

func (s *redisSubscription) Unsubscribe() {
	s.once.Do(func() {
		_ = s.pubsub.Close()
	})
}
