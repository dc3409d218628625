// Package app contains the coordinator's use cases: the session lifecycle
// state machine, the answer processor and the session fan-out.
package app

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"quiz-sync-service/internal/domain"
	"quiz-sync-service/internal/registry"
	"quiz-sync-service/internal/store"
)

// QuestionSource serves question content for the scoring hot path. Backed by
// the TTL caches in internal/infra.
type QuestionSource interface {
	GetQuestion(ctx context.Context, questionID string) (domain.Question, error)
}

// Service drives sessions, answers and broadcasts. Construct one per process
// with NewService; all dependencies are injected so instances can coexist in
// tests.
type Service struct {
	store       store.Store
	questions   QuestionSource
	registry    *registry.Registry
	broadcaster *Broadcaster
	bonus       BonusFunc
	clock       func() time.Time
	log         *logrus.Entry

	sessionLocks     *keyedMutex
	participantLocks *keyedMutex
	seenControls     *dedupe
}

func NewService(st store.Store, questions QuestionSource, reg *registry.Registry, b *Broadcaster, bonus BonusFunc, log *logrus.Entry) *Service {
	if bonus == nil {
		bonus = NoBonus
	}
	return &Service{
		store:            st,
		questions:        questions,
		registry:         reg,
		broadcaster:      b,
		bonus:            bonus,
		clock:            time.Now,
		log:              log,
		sessionLocks:     newKeyedMutex(),
		participantLocks: newKeyedMutex(),
		seenControls:     newDedupe(controlDedupeCap),
	}
}

// Registry exposes the connection registry for transport wiring.
func (s *Service) Registry() *registry.Registry {
	return s.registry
}
