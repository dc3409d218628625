package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"quiz-sync-service/internal/domain"
	"quiz-sync-service/internal/store"
)

// Submission is one answer from a participant's device.
type Submission struct {
	SessionID     string
	ParticipantID string
	QuestionID    string
	MessageID     string
	OptionIndex   int
	TimeToAnswer  time.Duration
}

// SubmitResult is what the submitter gets back. Repeat submissions for the
// same (participant, question) pair return the originally computed result.
type SubmitResult struct {
	Score            int
	PointsEarned     int
	Correct          bool
	Streak           int
	ParticipantCount int
	AnsweredCount    int
}

// SubmitAnswer validates, scores and records one submission. Updates for the
// same participant are serialized; distinct participants proceed in parallel.
func (s *Service) SubmitAnswer(ctx context.Context, sub Submission) (SubmitResult, error) {
	sess, err := s.store.GetSession(ctx, sub.SessionID)
	if err != nil {
		return SubmitResult{}, err
	}
	if sess.State != domain.StateQuestionOpen {
		return SubmitResult{}, fmt.Errorf("session %s in %s: %w", sub.SessionID, sess.State, domain.ErrWindowClosed)
	}

	question, err := s.questions.GetQuestion(ctx, sub.QuestionID)
	if err != nil {
		return SubmitResult{}, err
	}
	if question.SessionID != sub.SessionID || question.Index != sess.CurrentQuestion {
		return SubmitResult{}, fmt.Errorf("question %s not open: %w", sub.QuestionID, domain.ErrWindowClosed)
	}

	unlock := s.participantLocks.Lock(sub.ParticipantID)
	result, prior, err := s.scoreLocked(ctx, sub, question)
	unlock()
	if err != nil {
		return SubmitResult{}, err
	}

	result.ParticipantCount = s.registry.CountBySession(sub.SessionID)
	result.AnsweredCount, err = s.store.CountAnswers(ctx, sub.SessionID, sub.QuestionID)
	if err != nil {
		return SubmitResult{}, err
	}

	// Replays confirm privately but do not re-broadcast the aggregate.
	if !prior {
		_ = s.broadcaster.Broadcast(ctx, sub.SessionID, domain.EventAnswerSubmitted, domain.AnswerSubmittedData{
			QuestionID:       sub.QuestionID,
			AnsweredCount:    result.AnsweredCount,
			ParticipantCount: result.ParticipantCount,
		})
	}
	_ = s.broadcaster.Private(ctx, sub.SessionID, sub.ParticipantID, domain.EventAnswerConfirmed, domain.AnswerConfirmedData{
		QuestionID:   sub.QuestionID,
		Correct:      result.Correct,
		PointsEarned: result.PointsEarned,
		Score:        result.Score,
		Streak:       result.Streak,
	})
	return result, nil
}

// scoreLocked runs the duplicate check, answer insert and score update under
// the participant's lock. prior reports that an earlier submission already
// scored this question.
func (s *Service) scoreLocked(ctx context.Context, sub Submission, question domain.Question) (SubmitResult, bool, error) {
	participant, err := s.store.GetParticipant(ctx, sub.ParticipantID)
	if err != nil {
		return SubmitResult{}, false, err
	}
	if participant.SessionID != sub.SessionID {
		return SubmitResult{}, false, fmt.Errorf("participant %s: %w", sub.ParticipantID, domain.ErrNotFound)
	}

	if existing, err := s.store.GetAnswer(ctx, sub.ParticipantID, sub.QuestionID); err == nil {
		s.log.WithFields(logrus.Fields{
			"session_id":     sub.SessionID,
			"participant_id": sub.ParticipantID,
			"question_id":    sub.QuestionID,
			"message_id":     sub.MessageID,
		}).Debug("duplicate answer, returning prior result")
		return SubmitResult{
			Score:        participant.Score,
			PointsEarned: existing.PointsEarned,
			Correct:      existing.Correct,
			Streak:       participant.Streak,
		}, true, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return SubmitResult{}, false, err
	}

	correct := sub.OptionIndex == question.CorrectOption
	points := 0
	if correct {
		points = question.BasePoints() + s.bonus(sub.TimeToAnswer, question.TimeLimit, participant.Streak)
	}

	now := s.clock()
	answer := &domain.Answer{
		ID:            uuid.NewString(),
		SessionID:     sub.SessionID,
		ParticipantID: sub.ParticipantID,
		QuestionID:    sub.QuestionID,
		OptionIndex:   sub.OptionIndex,
		Correct:       correct,
		PointsEarned:  points,
		TimeToAnswer:  sub.TimeToAnswer,
		SubmittedAt:   now,
	}
	if err := s.store.InsertAnswer(ctx, answer); err != nil {
		if errors.Is(err, domain.ErrDuplicateAnswer) {
			// Lost a race with our own retry; fall back to the stored record.
			existing, gerr := s.store.GetAnswer(ctx, sub.ParticipantID, sub.QuestionID)
			if gerr != nil {
				return SubmitResult{}, false, gerr
			}
			return SubmitResult{
				Score:        participant.Score,
				PointsEarned: existing.PointsEarned,
				Correct:      existing.Correct,
				Streak:       participant.Streak,
			}, true, nil
		}
		return SubmitResult{}, false, err
	}

	score := participant.Score + points
	streak := 0
	if correct {
		streak = participant.Streak + 1
	}
	participant, err = s.store.UpdateParticipant(ctx, sub.ParticipantID, store.ParticipantPatch{
		Score:        &score,
		Streak:       &streak,
		LastScoredAt: &now,
	})
	if err != nil {
		return SubmitResult{}, false, err
	}

	return SubmitResult{
		Score:        participant.Score,
		PointsEarned: points,
		Correct:      correct,
		Streak:       participant.Streak,
	}, false, nil
}
