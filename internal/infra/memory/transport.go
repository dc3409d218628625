package memory

import (
	"context"
	"sync"

	"quiz-sync-service/internal/channel"
)

// Transport is an in-process loopback pub/sub. Published data is delivered
// synchronously to every live subscription of the topic.
type Transport struct {
	mu     sync.RWMutex
	topics map[string]map[*loopbackSub]struct{}
}

func NewTransport() *Transport {
	return &Transport{topics: make(map[string]map[*loopbackSub]struct{})}
}

func (t *Transport) Publish(_ context.Context, topic string, data []byte) error {
	t.mu.RLock()
	subs := make([]*loopbackSub, 0, len(t.topics[topic]))
	for sub := range t.topics[topic] {
		subs = append(subs, sub)
	}
	t.mu.RUnlock()

	for _, sub := range subs {
		sub.handler(data)
	}
	return nil
}

func (t *Transport) Subscribe(_ context.Context, topic string, handler func(data []byte)) (channel.TransportSub, error) {
	sub := &loopbackSub{transport: t, topic: topic, handler: handler}

	t.mu.Lock()
	if t.topics[topic] == nil {
		t.topics[topic] = make(map[*loopbackSub]struct{})
	}
	t.topics[topic][sub] = struct{}{}
	t.mu.Unlock()
	return sub, nil
}

type loopbackSub struct {
	transport *Transport
	topic     string
	handler   func([]byte)
}

func (s *loopbackSub) Ping(context.Context) error { return nil }

func (s *loopbackSub) Close() error {
	s.transport.mu.Lock()
	delete(s.transport.topics[s.topic], s)
	s.transport.mu.Unlock()
	return nil
}
