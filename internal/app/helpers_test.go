package app_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"quiz-sync-service/internal/app"
	"quiz-sync-service/internal/domain"
	"quiz-sync-service/internal/infra/memory"
	"quiz-sync-service/internal/logging"
	"quiz-sync-service/internal/registry"
)

// capturePublisher records every envelope the broadcaster emits.
type capturePublisher struct {
	mu   sync.Mutex
	envs []domain.Envelope
}

func (p *capturePublisher) EnsureChannel(context.Context, string) error { return nil }

func (p *capturePublisher) Publish(_ context.Context, _ string, env domain.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.envs = append(p.envs, env)
	return nil
}

func (p *capturePublisher) byType(typ domain.EventType) []domain.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.Envelope
	for _, env := range p.envs {
		if env.Type == typ {
			out = append(out, env)
		}
	}
	return out
}

func newTestService(t *testing.T, bonus app.BonusFunc) (*app.Service, *memory.Store, *capturePublisher) {
	t.Helper()
	st := memory.NewStore()
	pub := &capturePublisher{}
	log := logging.Discard()
	cache := memory.NewQuestionCache(memory.NewStoreLoader(st), time.Minute)
	svc := app.NewService(st, cache, registry.New(log), app.NewBroadcaster(pub, log), bonus, log)
	return svc, st, pub
}

func hostCtrl(sessionID, messageID string) app.Control {
	return app.Control{SessionID: sessionID, MessageID: messageID, Role: domain.RoleHost}
}

// joinAndAttach joins a participant by access code and attaches a live
// connection so registry counts include them.
func joinAndAttach(t *testing.T, svc *app.Service, accessCode, name, connID string) domain.Participant {
	t.Helper()
	participant, sess, err := svc.Join(context.Background(), accessCode, name, name+"-key")
	if err != nil {
		t.Fatalf("join %s: %v", name, err)
	}
	svc.Registry().Register(connID)
	if err := svc.Registry().Attach(connID, sess.ID, participant.ID, domain.RoleParticipant); err != nil {
		t.Fatalf("attach %s: %v", name, err)
	}
	return participant
}

func addQuestion(t *testing.T, svc *app.Service, sessionID, messageID, prompt string, correct int) domain.Question {
	t.Helper()
	q, err := svc.AddQuestion(context.Background(), hostCtrl(sessionID, messageID), app.QuestionInput{
		Prompt:        prompt,
		Options:       []string{"red", "green", "blue", "yellow"},
		CorrectOption: correct,
		TimeLimit:     30 * time.Second,
	})
	if err != nil {
		t.Fatalf("add question: %v", err)
	}
	return q
}
