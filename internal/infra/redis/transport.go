// Package redis binds the coordinator to Redis: the pub/sub transport the
// channel manager rides on, and a question cache for the scoring hot path.
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"quiz-sync-service/internal/channel"
	"quiz-sync-service/internal/domain"
)

// Transport implements channel.Transport over Redis PUBLISH/SUBSCRIBE.
type Transport struct {
	client *redis.Client
}

func NewTransport(client *redis.Client) *Transport {
	return &Transport{client: client}
}

func (t *Transport) Publish(ctx context.Context, topic string, data []byte) error {
	if err := t.client.Publish(ctx, topic, data).Err(); err != nil {
		return fmt.Errorf("publish %s: %v: %w", topic, err, domain.ErrTransportFailure)
	}
	return nil
}

func (t *Transport) Subscribe(ctx context.Context, topic string, handler func(data []byte)) (channel.TransportSub, error) {
	pubsub := t.client.Subscribe(ctx, topic)
	// Receive waits for the subscription confirmation so a dead backend
	// fails here instead of silently dropping messages.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %v: %w", topic, err, domain.ErrTransportFailure)
	}

	go func() {
		for msg := range pubsub.Channel() {
			handler([]byte(msg.Payload))
		}
	}()
	return &transportSub{pubsub: pubsub}, nil
}

type transportSub struct {
	pubsub *redis.PubSub
}

func (s *transportSub) Ping(ctx context.Context) error {
	if err := s.pubsub.Ping(ctx); err != nil {
		return fmt.Errorf("pubsub ping: %v: %w", err, domain.ErrTransportFailure)
	}
	return nil
}

func (s *transportSub) Close() error {
	return s.pubsub.Close()
}
