// Package postgres persists sessions, participants, questions and answers
// with bun; the read-only question loader for the scoring hot path uses pgx.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"

	"quiz-sync-service/internal/domain"
	"quiz-sync-service/internal/store"
)

type sessionRow struct {
	bun.BaseModel `bun:"table:sessions,alias:s"`

	ID                string    `bun:"id,pk"`
	AccessCode        string    `bun:"access_code"`
	State             string    `bun:"state"`
	CurrentQuestion   int       `bun:"current_question"`
	QuestionStartedAt time.Time `bun:"question_started_at,nullzero"`
	ShowResults       bool      `bun:"show_results"`
	IsActive          bool      `bun:"is_active"`
	CreatedAt         time.Time `bun:"created_at,nullzero"`
	StartedAt         time.Time `bun:"started_at,nullzero"`
}

type participantRow struct {
	bun.BaseModel `bun:"table:participants,alias:p"`

	ID           string    `bun:"id,pk"`
	SessionID    string    `bun:"session_id"`
	DisplayName  string    `bun:"display_name"`
	ContactKey   string    `bun:"contact_key"`
	Score        int       `bun:"score"`
	Streak       int       `bun:"streak"`
	LastSeen     time.Time `bun:"last_seen,nullzero"`
	LastScoredAt time.Time `bun:"last_scored_at,nullzero"`
}

type questionRow struct {
	bun.BaseModel `bun:"table:questions,alias:q"`

	ID            string   `bun:"id,pk"`
	SessionID     string   `bun:"session_id"`
	Index         int      `bun:"idx"`
	Prompt        string   `bun:"prompt"`
	Options       []string `bun:"options,array"`
	CorrectOption int      `bun:"correct_option"`
	TimeLimitMS   int64    `bun:"time_limit_ms"`
	Points        int      `bun:"points"`
}

type answerRow struct {
	bun.BaseModel `bun:"table:answers,alias:a"`

	ID             string    `bun:"id,pk"`
	SessionID      string    `bun:"session_id"`
	ParticipantID  string    `bun:"participant_id"`
	QuestionID     string    `bun:"question_id"`
	OptionIndex    int       `bun:"option_index"`
	Correct        bool      `bun:"correct"`
	PointsEarned   int       `bun:"points_earned"`
	TimeToAnswerMS int64     `bun:"time_to_answer_ms"`
	SubmittedAt    time.Time `bun:"submitted_at,nullzero"`
}

// Store implements store.Store on Postgres.
type Store struct {
	db *bun.DB
}

func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

func wrapErr(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	if isUniqueViolation(err) {
		return fmt.Errorf("%s: %w", op, domain.ErrDuplicateAnswer)
	}
	return fmt.Errorf("%s: %v: %w", op, err, domain.ErrPersistence)
}

func isUniqueViolation(err error) bool {
	var pgErr pgdriver.Error
	return errors.As(err, &pgErr) && pgErr.Field('C') == "23505"
}

func (s *Store) CreateSession(ctx context.Context, session *domain.Session) error {
	row := sessionToRow(*session)
	if _, err := s.db.NewInsert().Model(&row).Exec(ctx); err != nil {
		return wrapErr("create session", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (domain.Session, error) {
	var row sessionRow
	if err := s.db.NewSelect().Model(&row).Where("s.id = ?", id).Scan(ctx); err != nil {
		return domain.Session{}, wrapErr("get session", err)
	}
	return sessionFromRow(row), nil
}

func (s *Store) GetSessionByCode(ctx context.Context, accessCode string) (domain.Session, error) {
	var row sessionRow
	if err := s.db.NewSelect().Model(&row).Where("s.access_code = ?", accessCode).Scan(ctx); err != nil {
		return domain.Session{}, wrapErr("get session by code", err)
	}
	return sessionFromRow(row), nil
}

func (s *Store) UpdateSession(ctx context.Context, id string, patch store.SessionPatch) (domain.Session, error) {
	q := s.db.NewUpdate().Model((*sessionRow)(nil)).Where("id = ?", id)
	touched := false
	if patch.State != nil {
		q = q.Set("state = ?", string(*patch.State))
		touched = true
	}
	if patch.CurrentQuestion != nil {
		q = q.Set("current_question = ?", *patch.CurrentQuestion)
		touched = true
	}
	if patch.QuestionStartedAt != nil {
		q = q.Set("question_started_at = ?", *patch.QuestionStartedAt)
		touched = true
	}
	if patch.ShowResults != nil {
		q = q.Set("show_results = ?", *patch.ShowResults)
		touched = true
	}
	if patch.IsActive != nil {
		q = q.Set("is_active = ?", *patch.IsActive)
		touched = true
	}
	if patch.StartedAt != nil {
		q = q.Set("started_at = ?", *patch.StartedAt)
		touched = true
	}
	if touched {
		res, err := q.Exec(ctx)
		if err != nil {
			return domain.Session{}, wrapErr("update session", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return domain.Session{}, fmt.Errorf("update session %s: %w", id, domain.ErrNotFound)
		}
	}
	return s.GetSession(ctx, id)
}

func (s *Store) CreateParticipant(ctx context.Context, participant *domain.Participant) error {
	row := participantToRow(*participant)
	if _, err := s.db.NewInsert().Model(&row).Exec(ctx); err != nil {
		return wrapErr("create participant", err)
	}
	return nil
}

func (s *Store) GetParticipant(ctx context.Context, id string) (domain.Participant, error) {
	var row participantRow
	if err := s.db.NewSelect().Model(&row).Where("p.id = ?", id).Scan(ctx); err != nil {
		return domain.Participant{}, wrapErr("get participant", err)
	}
	return participantFromRow(row), nil
}

func (s *Store) GetParticipantByContactKey(ctx context.Context, sessionID, contactKey string) (domain.Participant, error) {
	var row participantRow
	err := s.db.NewSelect().Model(&row).
		Where("p.session_id = ?", sessionID).
		Where("p.contact_key = ?", contactKey).
		Scan(ctx)
	if err != nil {
		return domain.Participant{}, wrapErr("get participant by contact key", err)
	}
	return participantFromRow(row), nil
}

func (s *Store) UpdateParticipant(ctx context.Context, id string, patch store.ParticipantPatch) (domain.Participant, error) {
	q := s.db.NewUpdate().Model((*participantRow)(nil)).Where("id = ?", id)
	touched := false
	if patch.DisplayName != nil {
		q = q.Set("display_name = ?", *patch.DisplayName)
		touched = true
	}
	if patch.Score != nil {
		q = q.Set("score = ?", *patch.Score)
		touched = true
	}
	if patch.Streak != nil {
		q = q.Set("streak = ?", *patch.Streak)
		touched = true
	}
	if patch.LastSeen != nil {
		q = q.Set("last_seen = ?", *patch.LastSeen)
		touched = true
	}
	if patch.LastScoredAt != nil {
		q = q.Set("last_scored_at = ?", *patch.LastScoredAt)
		touched = true
	}
	if touched {
		res, err := q.Exec(ctx)
		if err != nil {
			return domain.Participant{}, wrapErr("update participant", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return domain.Participant{}, fmt.Errorf("update participant %s: %w", id, domain.ErrNotFound)
		}
	}
	return s.GetParticipant(ctx, id)
}

func (s *Store) ListParticipants(ctx context.Context, sessionID string) ([]domain.Participant, error) {
	var rows []participantRow
	if err := s.db.NewSelect().Model(&rows).Where("p.session_id = ?", sessionID).Scan(ctx); err != nil {
		return nil, wrapErr("list participants", err)
	}
	out := make([]domain.Participant, 0, len(rows))
	for _, row := range rows {
		out = append(out, participantFromRow(row))
	}
	return out, nil
}

func (s *Store) CreateQuestion(ctx context.Context, question *domain.Question) error {
	row := questionToRow(*question)
	if _, err := s.db.NewInsert().Model(&row).Exec(ctx); err != nil {
		return wrapErr("create question", err)
	}
	return nil
}

func (s *Store) GetQuestion(ctx context.Context, id string) (domain.Question, error) {
	var row questionRow
	if err := s.db.NewSelect().Model(&row).Where("q.id = ?", id).Scan(ctx); err != nil {
		return domain.Question{}, wrapErr("get question", err)
	}
	return questionFromRow(row), nil
}

func (s *Store) GetQuestionByIndex(ctx context.Context, sessionID string, index int) (domain.Question, error) {
	var row questionRow
	err := s.db.NewSelect().Model(&row).
		Where("q.session_id = ?", sessionID).
		Where("q.idx = ?", index).
		Scan(ctx)
	if err != nil {
		return domain.Question{}, wrapErr("get question by index", err)
	}
	return questionFromRow(row), nil
}

func (s *Store) CountQuestions(ctx context.Context, sessionID string) (int, error) {
	count, err := s.db.NewSelect().Model((*questionRow)(nil)).Where("q.session_id = ?", sessionID).Count(ctx)
	if err != nil {
		return 0, wrapErr("count questions", err)
	}
	return count, nil
}

func (s *Store) InsertAnswer(ctx context.Context, answer *domain.Answer) error {
	row := answerToRow(*answer)
	if _, err := s.db.NewInsert().Model(&row).Exec(ctx); err != nil {
		return wrapErr("insert answer", err)
	}
	return nil
}

func (s *Store) GetAnswer(ctx context.Context, participantID, questionID string) (domain.Answer, error) {
	var row answerRow
	err := s.db.NewSelect().Model(&row).
		Where("a.participant_id = ?", participantID).
		Where("a.question_id = ?", questionID).
		Scan(ctx)
	if err != nil {
		return domain.Answer{}, wrapErr("get answer", err)
	}
	return answerFromRow(row), nil
}

func (s *Store) CountAnswers(ctx context.Context, sessionID, questionID string) (int, error) {
	count, err := s.db.NewSelect().Model((*answerRow)(nil)).
		Where("a.session_id = ?", sessionID).
		Where("a.question_id = ?", questionID).
		Count(ctx)
	if err != nil {
		return 0, wrapErr("count answers", err)
	}
	return count, nil
}

func sessionToRow(s domain.Session) sessionRow {
	return sessionRow{
		ID:                s.ID,
		AccessCode:        s.AccessCode,
		State:             string(s.State),
		CurrentQuestion:   s.CurrentQuestion,
		QuestionStartedAt: s.QuestionStartedAt,
		ShowResults:       s.ShowResults,
		IsActive:          s.IsActive,
		CreatedAt:         s.CreatedAt,
		StartedAt:         s.StartedAt,
	}
}

func sessionFromRow(row sessionRow) domain.Session {
	return domain.Session{
		ID:                row.ID,
		AccessCode:        row.AccessCode,
		State:             domain.SessionState(row.State),
		CurrentQuestion:   row.CurrentQuestion,
		QuestionStartedAt: row.QuestionStartedAt,
		ShowResults:       row.ShowResults,
		IsActive:          row.IsActive,
		CreatedAt:         row.CreatedAt,
		StartedAt:         row.StartedAt,
	}
}

func participantToRow(p domain.Participant) participantRow {
	return participantRow{
		ID:           p.ID,
		SessionID:    p.SessionID,
		DisplayName:  p.DisplayName,
		ContactKey:   p.ContactKey,
		Score:        p.Score,
		Streak:       p.Streak,
		LastSeen:     p.LastSeen,
		LastScoredAt: p.LastScoredAt,
	}
}

func participantFromRow(row participantRow) domain.Participant {
	return domain.Participant{
		ID:           row.ID,
		SessionID:    row.SessionID,
		DisplayName:  row.DisplayName,
		ContactKey:   row.ContactKey,
		Score:        row.Score,
		Streak:       row.Streak,
		LastSeen:     row.LastSeen,
		LastScoredAt: row.LastScoredAt,
	}
}

func questionToRow(q domain.Question) questionRow {
	return questionRow{
		ID:            q.ID,
		SessionID:     q.SessionID,
		Index:         q.Index,
		Prompt:        q.Prompt,
		Options:       q.Options,
		CorrectOption: q.CorrectOption,
		TimeLimitMS:   q.TimeLimit.Milliseconds(),
		Points:        q.Points,
	}
}

func questionFromRow(row questionRow) domain.Question {
	return domain.Question{
		ID:            row.ID,
		SessionID:     row.SessionID,
		Index:         row.Index,
		Prompt:        row.Prompt,
		Options:       row.Options,
		CorrectOption: row.CorrectOption,
		TimeLimit:     time.Duration(row.TimeLimitMS) * time.Millisecond,
		Points:        row.Points,
	}
}

func answerToRow(a domain.Answer) answerRow {
	return answerRow{
		ID:             a.ID,
		SessionID:      a.SessionID,
		ParticipantID:  a.ParticipantID,
		QuestionID:     a.QuestionID,
		OptionIndex:    a.OptionIndex,
		Correct:        a.Correct,
		PointsEarned:   a.PointsEarned,
		TimeToAnswerMS: a.TimeToAnswer.Milliseconds(),
		SubmittedAt:    a.SubmittedAt,
	}
}

func answerFromRow(row answerRow) domain.Answer {
	return domain.Answer{
		ID:            row.ID,
		SessionID:     row.SessionID,
		ParticipantID: row.ParticipantID,
		QuestionID:    row.QuestionID,
		OptionIndex:   row.OptionIndex,
		Correct:       row.Correct,
		PointsEarned:  row.PointsEarned,
		TimeToAnswer:  time.Duration(row.TimeToAnswerMS) * time.Millisecond,
		SubmittedAt:   row.SubmittedAt,
	}
}
