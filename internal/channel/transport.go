package channel

//go:generate mockgen -package=mocks -destination=mocks/mock_transport.go quiz-sync-service/internal/channel Transport,TransportSub

import "context"

// Transport is the hosted pub/sub primitive the manager builds reliability
// on: topic broadcast plus a per-subscription liveness ping. The Redis
// binding lives in internal/infra/redis; internal/infra/memory carries an
// in-process loopback for demos and tests.
type Transport interface {
	// Publish sends data to every current subscriber of topic.
	Publish(ctx context.Context, topic string, data []byte) error
	// Subscribe registers handler for topic and returns the live subscription.
	// The handler is invoked from the transport's own goroutine.
	Subscribe(ctx context.Context, topic string, handler func(data []byte)) (TransportSub, error)
}

// TransportSub is one live topic subscription.
type TransportSub interface {
	// Ping verifies the subscription is still alive.
	Ping(ctx context.Context) error
	// Close tears the subscription down.
	Close() error
}
