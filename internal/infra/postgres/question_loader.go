package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"quiz-sync-service/internal/domain"
)

// QuestionLoader reads question content straight from Postgres with pgx; it
// sits behind the TTL caches as their backing loader.
type QuestionLoader struct {
	pool *pgxpool.Pool
}

func NewQuestionLoader(pool *pgxpool.Pool) *QuestionLoader {
	return &QuestionLoader{pool: pool}
}

func (l *QuestionLoader) LoadQuestion(ctx context.Context, questionID string) (domain.Question, error) {
	var (
		q           domain.Question
		timeLimitMS int64
	)
	err := l.pool.QueryRow(ctx,
		`SELECT id, session_id, idx, prompt, options, correct_option, time_limit_ms, points
		   FROM questions WHERE id = $1`, questionID).
		Scan(&q.ID, &q.SessionID, &q.Index, &q.Prompt, &q.Options, &q.CorrectOption, &timeLimitMS, &q.Points)
	if err != nil {
		return domain.Question{}, fmt.Errorf("load question: %v: %w", err, domain.ErrPersistence)
	}
	q.TimeLimit = time.Duration(timeLimitMS) * time.Millisecond
	return q, nil
}
