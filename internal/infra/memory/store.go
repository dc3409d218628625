// Package memory carries the in-process fallbacks: a full Store and a
// loopback Transport, used when no Postgres/Redis is configured and in tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"quiz-sync-service/internal/domain"
	"quiz-sync-service/internal/store"
)

// Store is an in-memory implementation of store.Store.
type Store struct {
	mu sync.RWMutex

	sessions       map[string]domain.Session
	sessionsByCode map[string]string

	participants       map[string]domain.Participant
	participantsByKey  map[string]string // sessionID/contactKey -> participantID
	participantSession map[string][]string

	questions        map[string]domain.Question
	questionsByIndex map[string]string // sessionID/index -> questionID
	questionCount    map[string]int

	answers      map[string]domain.Answer // participantID/questionID
	answerCounts map[string]int           // sessionID/questionID
	answersByID  map[string]string
}

func NewStore() *Store {
	return &Store{
		sessions:           make(map[string]domain.Session),
		sessionsByCode:     make(map[string]string),
		participants:       make(map[string]domain.Participant),
		participantsByKey:  make(map[string]string),
		participantSession: make(map[string][]string),
		questions:          make(map[string]domain.Question),
		questionsByIndex:   make(map[string]string),
		questionCount:      make(map[string]int),
		answers:            make(map[string]domain.Answer),
		answerCounts:       make(map[string]int),
		answersByID:        make(map[string]string),
	}
}

func key2(a, b string) string { return a + "/" + b }

func (s *Store) CreateSession(_ context.Context, session *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = *session
	s.sessionsByCode[session.AccessCode] = session.ID
	return nil
}

func (s *Store) GetSession(_ context.Context, id string) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return domain.Session{}, fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	return sess, nil
}

func (s *Store) GetSessionByCode(_ context.Context, accessCode string) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.sessionsByCode[accessCode]
	if !ok {
		return domain.Session{}, fmt.Errorf("access code %s: %w", accessCode, domain.ErrNotFound)
	}
	return s.sessions[id], nil
}

func (s *Store) UpdateSession(_ context.Context, id string, patch store.SessionPatch) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return domain.Session{}, fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	if patch.State != nil {
		sess.State = *patch.State
	}
	if patch.CurrentQuestion != nil {
		sess.CurrentQuestion = *patch.CurrentQuestion
	}
	if patch.QuestionStartedAt != nil {
		sess.QuestionStartedAt = *patch.QuestionStartedAt
	}
	if patch.ShowResults != nil {
		sess.ShowResults = *patch.ShowResults
	}
	if patch.IsActive != nil {
		sess.IsActive = *patch.IsActive
	}
	if patch.StartedAt != nil {
		sess.StartedAt = *patch.StartedAt
	}
	s.sessions[id] = sess
	return sess, nil
}

func (s *Store) CreateParticipant(_ context.Context, participant *domain.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participants[participant.ID] = *participant
	if participant.ContactKey != "" {
		s.participantsByKey[key2(participant.SessionID, participant.ContactKey)] = participant.ID
	}
	s.participantSession[participant.SessionID] = append(s.participantSession[participant.SessionID], participant.ID)
	return nil
}

func (s *Store) GetParticipant(_ context.Context, id string) (domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.participants[id]
	if !ok {
		return domain.Participant{}, fmt.Errorf("participant %s: %w", id, domain.ErrNotFound)
	}
	return p, nil
}

func (s *Store) GetParticipantByContactKey(_ context.Context, sessionID, contactKey string) (domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.participantsByKey[key2(sessionID, contactKey)]
	if !ok {
		return domain.Participant{}, fmt.Errorf("contact key in %s: %w", sessionID, domain.ErrNotFound)
	}
	return s.participants[id], nil
}

func (s *Store) UpdateParticipant(_ context.Context, id string, patch store.ParticipantPatch) (domain.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[id]
	if !ok {
		return domain.Participant{}, fmt.Errorf("participant %s: %w", id, domain.ErrNotFound)
	}
	if patch.DisplayName != nil {
		p.DisplayName = *patch.DisplayName
	}
	if patch.Score != nil {
		p.Score = *patch.Score
	}
	if patch.Streak != nil {
		p.Streak = *patch.Streak
	}
	if patch.LastSeen != nil {
		p.LastSeen = *patch.LastSeen
	}
	if patch.LastScoredAt != nil {
		p.LastScoredAt = *patch.LastScoredAt
	}
	s.participants[id] = p
	return p, nil
}

func (s *Store) ListParticipants(_ context.Context, sessionID string) ([]domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.participantSession[sessionID]
	out := make([]domain.Participant, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.participants[id])
	}
	return out, nil
}

func (s *Store) CreateQuestion(_ context.Context, question *domain.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.questions[question.ID] = *question
	s.questionsByIndex[key2(question.SessionID, fmt.Sprint(question.Index))] = question.ID
	s.questionCount[question.SessionID]++
	return nil
}

func (s *Store) GetQuestion(_ context.Context, id string) (domain.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.questions[id]
	if !ok {
		return domain.Question{}, fmt.Errorf("question %s: %w", id, domain.ErrNotFound)
	}
	return q, nil
}

func (s *Store) GetQuestionByIndex(_ context.Context, sessionID string, index int) (domain.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.questionsByIndex[key2(sessionID, fmt.Sprint(index))]
	if !ok {
		return domain.Question{}, fmt.Errorf("question %d in %s: %w", index, sessionID, domain.ErrNotFound)
	}
	return s.questions[id], nil
}

func (s *Store) CountQuestions(_ context.Context, sessionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.questionCount[sessionID], nil
}

func (s *Store) InsertAnswer(_ context.Context, answer *domain.Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key2(answer.ParticipantID, answer.QuestionID)
	if _, ok := s.answers[k]; ok {
		return fmt.Errorf("answer for %s: %w", k, domain.ErrDuplicateAnswer)
	}
	s.answers[k] = *answer
	s.answersByID[answer.ID] = k
	s.answerCounts[key2(answer.SessionID, answer.QuestionID)]++
	return nil
}

func (s *Store) GetAnswer(_ context.Context, participantID, questionID string) (domain.Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.answers[key2(participantID, questionID)]
	if !ok {
		return domain.Answer{}, fmt.Errorf("answer %s/%s: %w", participantID, questionID, domain.ErrNotFound)
	}
	return a, nil
}

func (s *Store) CountAnswers(_ context.Context, sessionID, questionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.answerCounts[key2(sessionID, questionID)], nil
}
