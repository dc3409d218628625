// Package store declares the persistence operations the coordinator consumes.
// Implementations live under internal/infra; every backend failure must be
// reported as domain.ErrPersistence and missing rows as domain.ErrNotFound.
package store

import (
	"context"
	"time"

	"quiz-sync-service/internal/domain"
)

// SessionPatch is a partial session update; nil fields are left untouched.
type SessionPatch struct {
	State             *domain.SessionState
	CurrentQuestion   *int
	QuestionStartedAt *time.Time
	ShowResults       *bool
	IsActive          *bool
	StartedAt         *time.Time
}

// ParticipantPatch is a partial participant update; nil fields are left untouched.
type ParticipantPatch struct {
	DisplayName  *string
	Score        *int
	Streak       *int
	LastSeen     *time.Time
	LastScoredAt *time.Time
}

// Store is the durable storage consumed by the coordinator.
type Store interface {
	CreateSession(ctx context.Context, session *domain.Session) error
	GetSession(ctx context.Context, id string) (domain.Session, error)
	GetSessionByCode(ctx context.Context, accessCode string) (domain.Session, error)
	UpdateSession(ctx context.Context, id string, patch SessionPatch) (domain.Session, error)

	CreateParticipant(ctx context.Context, participant *domain.Participant) error
	GetParticipant(ctx context.Context, id string) (domain.Participant, error)
	GetParticipantByContactKey(ctx context.Context, sessionID, contactKey string) (domain.Participant, error)
	UpdateParticipant(ctx context.Context, id string, patch ParticipantPatch) (domain.Participant, error)
	ListParticipants(ctx context.Context, sessionID string) ([]domain.Participant, error)

	CreateQuestion(ctx context.Context, question *domain.Question) error
	GetQuestion(ctx context.Context, id string) (domain.Question, error)
	GetQuestionByIndex(ctx context.Context, sessionID string, index int) (domain.Question, error)
	CountQuestions(ctx context.Context, sessionID string) (int, error)

	// InsertAnswer fails with domain.ErrDuplicateAnswer when an answer for the
	// same (participant, question) pair already exists.
	InsertAnswer(ctx context.Context, answer *domain.Answer) error
	GetAnswer(ctx context.Context, participantID, questionID string) (domain.Answer, error)
	CountAnswers(ctx context.Context, sessionID, questionID string) (int, error)
}
