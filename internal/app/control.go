package app

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"quiz-sync-service/internal/domain"
	"quiz-sync-service/internal/store"
)

// Control carries the common fields of a host control message. MessageID is
// used to absorb replays: a repeated id returns the current snapshot without
// persisting or broadcasting again.
type Control struct {
	SessionID string
	MessageID string
	Role      domain.Role
}

func (s *Service) authorizeHost(ctrl Control) error {
	if ctrl.Role != domain.RoleHost {
		return fmt.Errorf("control %s: %w", ctrl.SessionID, domain.ErrUnauthorized)
	}
	return nil
}

// Start moves a session from Lobby to Active.
func (s *Service) Start(ctx context.Context, ctrl Control) (domain.Session, error) {
	if err := s.authorizeHost(ctrl); err != nil {
		return domain.Session{}, err
	}

	unlock := s.sessionLocks.Lock(ctrl.SessionID)
	defer unlock()

	if s.seenControls.Seen(ctrl.SessionID, ctrl.MessageID) {
		return s.store.GetSession(ctx, ctrl.SessionID)
	}

	sess, err := s.store.GetSession(ctx, ctrl.SessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if sess.State != domain.StateLobby {
		return domain.Session{}, fmt.Errorf("start from %s: %w", sess.State, domain.ErrInvalidState)
	}

	now := s.clock()
	state := domain.StateActive
	active := true
	sess, err = s.store.UpdateSession(ctx, ctrl.SessionID, store.SessionPatch{
		State:     &state,
		IsActive:  &active,
		StartedAt: &now,
	})
	if err != nil {
		return domain.Session{}, err
	}

	s.seenControls.Record(ctrl.SessionID, ctrl.MessageID)
	s.log.WithField("session_id", sess.ID).Info("quiz started")
	_ = s.broadcaster.Broadcast(ctx, sess.ID, domain.EventStartQuiz, domain.StartQuizData{Session: domain.SnapshotOf(sess)})
	return sess, nil
}

// OpenQuestion opens the answer window for the question at index. Valid from
// any state except Finished.
func (s *Service) OpenQuestion(ctx context.Context, ctrl Control, index int) (domain.Session, error) {
	return s.openQuestion(ctx, ctrl, index, domain.EventStartQuestion)
}

// NextQuestion advances to currentQuestion+1 and opens it.
func (s *Service) NextQuestion(ctx context.Context, ctrl Control) (domain.Session, error) {
	if err := s.authorizeHost(ctrl); err != nil {
		return domain.Session{}, err
	}
	sess, err := s.store.GetSession(ctx, ctrl.SessionID)
	if err != nil {
		return domain.Session{}, err
	}
	next := sess.CurrentQuestion + 1
	if sess.QuestionStartedAt.IsZero() {
		// No question has been opened yet; advance to the first one.
		next = 0
	}
	return s.openQuestion(ctx, ctrl, next, domain.EventNextQuestion)
}

func (s *Service) openQuestion(ctx context.Context, ctrl Control, index int, event domain.EventType) (domain.Session, error) {
	if err := s.authorizeHost(ctrl); err != nil {
		return domain.Session{}, err
	}

	unlock := s.sessionLocks.Lock(ctrl.SessionID)
	defer unlock()

	if s.seenControls.Seen(ctrl.SessionID, ctrl.MessageID) {
		return s.store.GetSession(ctx, ctrl.SessionID)
	}

	sess, err := s.store.GetSession(ctx, ctrl.SessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if sess.State == domain.StateFinished {
		return domain.Session{}, fmt.Errorf("open question from %s: %w", sess.State, domain.ErrInvalidState)
	}

	question, err := s.store.GetQuestionByIndex(ctx, ctrl.SessionID, index)
	if err != nil {
		if event == domain.EventNextQuestion {
			return domain.Session{}, fmt.Errorf("no question at index %d: %w", index, domain.ErrInvalidState)
		}
		return domain.Session{}, err
	}

	now := s.clock()
	state := domain.StateQuestionOpen
	show := false
	sess, err = s.store.UpdateSession(ctx, ctrl.SessionID, store.SessionPatch{
		State:             &state,
		CurrentQuestion:   &index,
		QuestionStartedAt: &now,
		ShowResults:       &show,
	})
	if err != nil {
		return domain.Session{}, err
	}

	s.seenControls.Record(ctrl.SessionID, ctrl.MessageID)
	s.log.WithFields(logrus.Fields{"session_id": sess.ID, "question_index": index}).Info("question opened")
	_ = s.broadcaster.Broadcast(ctx, sess.ID, event, domain.StartQuestionData{
		Session:     domain.SnapshotOf(sess),
		QuestionID:  question.ID,
		Index:       question.Index,
		Prompt:      question.Prompt,
		Options:     question.Options,
		TimeLimitMS: question.TimeLimit.Milliseconds(),
		Points:      question.BasePoints(),
	})
	return sess, nil
}

// ShowResults closes the current answer window and publishes standings.
func (s *Service) ShowResults(ctx context.Context, ctrl Control) (domain.Session, error) {
	if err := s.authorizeHost(ctrl); err != nil {
		return domain.Session{}, err
	}

	unlock := s.sessionLocks.Lock(ctrl.SessionID)
	defer unlock()

	if s.seenControls.Seen(ctrl.SessionID, ctrl.MessageID) {
		return s.store.GetSession(ctx, ctrl.SessionID)
	}

	sess, err := s.store.GetSession(ctx, ctrl.SessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if sess.State != domain.StateQuestionOpen {
		return domain.Session{}, fmt.Errorf("show results from %s: %w", sess.State, domain.ErrInvalidState)
	}

	state := domain.StateResultsShown
	show := true
	sess, err = s.store.UpdateSession(ctx, ctrl.SessionID, store.SessionPatch{
		State:       &state,
		ShowResults: &show,
	})
	if err != nil {
		return domain.Session{}, err
	}

	entries, err := s.Leaderboard(ctx, sess.ID)
	if err != nil {
		entries = nil
	}
	s.seenControls.Record(ctrl.SessionID, ctrl.MessageID)
	s.log.WithField("session_id", sess.ID).Info("results shown")
	_ = s.broadcaster.Broadcast(ctx, sess.ID, domain.EventShowResults, domain.ShowResultsData{
		Session:     domain.SnapshotOf(sess),
		Leaderboard: entries,
	})
	_ = s.broadcaster.Broadcast(ctx, sess.ID, domain.EventLeaderboardUpdate, domain.LeaderboardUpdateData{Entries: entries})
	return sess, nil
}

// End finishes the session. Terminal; valid from any non-Finished state.
func (s *Service) End(ctx context.Context, ctrl Control) (domain.Session, error) {
	if err := s.authorizeHost(ctrl); err != nil {
		return domain.Session{}, err
	}

	unlock := s.sessionLocks.Lock(ctrl.SessionID)
	defer unlock()

	if s.seenControls.Seen(ctrl.SessionID, ctrl.MessageID) {
		return s.store.GetSession(ctx, ctrl.SessionID)
	}

	sess, err := s.store.GetSession(ctx, ctrl.SessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if sess.State == domain.StateFinished {
		return domain.Session{}, fmt.Errorf("end from %s: %w", sess.State, domain.ErrInvalidState)
	}

	state := domain.StateFinished
	inactive := false
	sess, err = s.store.UpdateSession(ctx, ctrl.SessionID, store.SessionPatch{
		State:    &state,
		IsActive: &inactive,
	})
	if err != nil {
		return domain.Session{}, err
	}

	entries, err := s.Leaderboard(ctx, sess.ID)
	if err != nil {
		entries = nil
	}
	s.log.WithField("session_id", sess.ID).Info("quiz finished")
	_ = s.broadcaster.Broadcast(ctx, sess.ID, domain.EventFinishQuiz, domain.FinishQuizData{
		Session:     domain.SnapshotOf(sess),
		Leaderboard: entries,
	})
	_ = s.broadcaster.Broadcast(ctx, sess.ID, domain.EventLeaderboardUpdate, domain.LeaderboardUpdateData{Entries: entries})
	s.seenControls.Forget(sess.ID)
	return sess, nil
}
