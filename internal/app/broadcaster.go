package app

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"quiz-sync-service/internal/domain"
)

// Publisher is the slice of the channel manager the broadcaster needs.
type Publisher interface {
	EnsureChannel(ctx context.Context, sessionID string) error
	Publish(ctx context.Context, sessionID string, env domain.Envelope) error
}

// Broadcaster turns domain events into wire envelopes: it assigns a fresh
// message id and timestamp and hands the envelope to the channel manager.
type Broadcaster struct {
	pub   Publisher
	clock func() time.Time
	newID func() string
	log   *logrus.Entry
}

func NewBroadcaster(pub Publisher, log *logrus.Entry) *Broadcaster {
	return &Broadcaster{
		pub:   pub,
		clock: time.Now,
		newID: func() string { return ulid.Make().String() },
		log:   log,
	}
}

// Broadcast fans a domain event out to every member of the session's room.
func (b *Broadcaster) Broadcast(ctx context.Context, sessionID string, typ domain.EventType, data any) error {
	env, err := domain.NewEnvelope(typ, sessionID, b.newID(), b.clock(), data)
	if err != nil {
		return err
	}
	return b.publish(ctx, env)
}

// Private sends an event addressed to a single identity. The transport
// primitive is still topic broadcast; the target is enforced at delivery.
func (b *Broadcaster) Private(ctx context.Context, sessionID, target string, typ domain.EventType, data any) error {
	env, err := domain.NewEnvelope(typ, sessionID, b.newID(), b.clock(), data)
	if err != nil {
		return err
	}
	env.Target = target
	return b.publish(ctx, env)
}

func (b *Broadcaster) publish(ctx context.Context, env domain.Envelope) error {
	if err := b.pub.Publish(ctx, env.SessionID, env); err != nil {
		b.log.WithFields(logrus.Fields{"session_id": env.SessionID, "type": env.Type, "error": err}).Warn("broadcast dropped")
		return err
	}
	return nil
}
