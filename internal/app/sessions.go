package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"quiz-sync-service/internal/domain"
	"quiz-sync-service/internal/store"
)

// accessCodeAlphabet avoids 0/O and 1/I so codes survive being read aloud.
const accessCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const accessCodeLength = 8

func mintAccessCode(rnd *rand.Rand) string {
	var b strings.Builder
	for i := 0; i < accessCodeLength; i++ {
		b.WriteByte(accessCodeAlphabet[rnd.Intn(len(accessCodeAlphabet))])
	}
	return b.String()
}

// CreateSession mints a new session in Lobby with a fresh access code.
func (s *Service) CreateSession(ctx context.Context) (domain.Session, error) {
	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	sess := domain.Session{
		ID:         uuid.NewString(),
		AccessCode: mintAccessCode(rnd),
		State:      domain.StateLobby,
		IsActive:   true,
		CreatedAt:  s.clock(),
	}
	if err := s.store.CreateSession(ctx, &sess); err != nil {
		return domain.Session{}, err
	}
	s.log.WithFields(logrus.Fields{"session_id": sess.ID, "access_code": sess.AccessCode}).Info("session created")
	return sess, nil
}

// Join resolves an access code and registers or re-identifies a participant.
// A contact key seen before in the session resumes that participant, so score
// and streak survive reconnects.
func (s *Service) Join(ctx context.Context, accessCode, displayName, contactKey string) (domain.Participant, domain.Session, error) {
	sess, err := s.store.GetSessionByCode(ctx, strings.ToUpper(strings.TrimSpace(accessCode)))
	if err != nil {
		return domain.Participant{}, domain.Session{}, err
	}
	if sess.State == domain.StateFinished {
		return domain.Participant{}, domain.Session{}, fmt.Errorf("join finished session: %w", domain.ErrInvalidState)
	}

	now := s.clock()
	participant, err := s.store.GetParticipantByContactKey(ctx, sess.ID, contactKey)
	switch {
	case err == nil:
		participant, err = s.store.UpdateParticipant(ctx, participant.ID, store.ParticipantPatch{
			DisplayName: &displayName,
			LastSeen:    &now,
		})
		if err != nil {
			return domain.Participant{}, domain.Session{}, err
		}
	case errors.Is(err, domain.ErrNotFound):
		participant = domain.Participant{
			ID:          uuid.NewString(),
			SessionID:   sess.ID,
			DisplayName: displayName,
			ContactKey:  contactKey,
			LastSeen:    now,
		}
		if err := s.store.CreateParticipant(ctx, &participant); err != nil {
			return domain.Participant{}, domain.Session{}, err
		}
	default:
		return domain.Participant{}, domain.Session{}, err
	}

	s.log.WithFields(logrus.Fields{"session_id": sess.ID, "participant_id": participant.ID}).Info("participant joined")
	return participant, sess, nil
}

// AnnounceParticipant broadcasts a join or leave with the live member count.
// Called once the connection is attached, so the count includes it.
func (s *Service) AnnounceParticipant(ctx context.Context, sessionID, displayName string, joined bool) {
	_ = s.broadcaster.Broadcast(ctx, sessionID, domain.EventParticipantUpdate, domain.ParticipantUpdateData{
		DisplayName:      displayName,
		Joined:           joined,
		ParticipantCount: s.registry.CountBySession(sessionID),
	})
}

// QuestionInput is host-authored question content.
type QuestionInput struct {
	Prompt        string
	Options       []string
	CorrectOption int
	TimeLimit     time.Duration
	Points        int
}

// AddQuestion appends a question while the session is still in the lobby.
// Questions are immutable once the session is active.
func (s *Service) AddQuestion(ctx context.Context, ctrl Control, input QuestionInput) (domain.Question, error) {
	if err := s.authorizeHost(ctrl); err != nil {
		return domain.Question{}, err
	}
	if len(input.Options) < 2 || input.CorrectOption < 0 || input.CorrectOption >= len(input.Options) {
		return domain.Question{}, fmt.Errorf("question needs >=2 options and a valid correct index: %w", domain.ErrInvalidState)
	}

	unlock := s.sessionLocks.Lock(ctrl.SessionID)
	defer unlock()

	sess, err := s.store.GetSession(ctx, ctrl.SessionID)
	if err != nil {
		return domain.Question{}, err
	}
	if sess.State != domain.StateLobby {
		return domain.Question{}, fmt.Errorf("add question in %s: %w", sess.State, domain.ErrInvalidState)
	}

	count, err := s.store.CountQuestions(ctx, ctrl.SessionID)
	if err != nil {
		return domain.Question{}, err
	}

	question := domain.Question{
		ID:            uuid.NewString(),
		SessionID:     ctrl.SessionID,
		Index:         count,
		Prompt:        input.Prompt,
		Options:       input.Options,
		CorrectOption: input.CorrectOption,
		TimeLimit:     input.TimeLimit,
		Points:        input.Points,
	}
	if err := s.store.CreateQuestion(ctx, &question); err != nil {
		return domain.Question{}, err
	}

	_ = s.broadcaster.Broadcast(ctx, ctrl.SessionID, domain.EventQuestionAdded, domain.QuestionAddedData{
		QuestionID:    question.ID,
		Index:         question.Index,
		QuestionCount: count + 1,
	})
	return question, nil
}

// Leaderboard returns the score-ordered snapshot for a session.
func (s *Service) Leaderboard(ctx context.Context, sessionID string) ([]domain.LeaderboardEntry, error) {
	participants, err := s.store.ListParticipants(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return domain.BuildLeaderboard(participants), nil
}

// HandleIdentityGone is wired as the registry's identity-gone hook: it
// broadcasts the departure with the remaining live count.
func (s *Service) HandleIdentityGone(sessionID, identity string, role domain.Role) {
	if role != domain.RoleParticipant {
		return
	}
	ctx := context.Background()
	name := identity
	if p, err := s.store.GetParticipant(ctx, identity); err == nil {
		name = p.DisplayName
	}
	s.AnnounceParticipant(ctx, sessionID, name, false)
}

// GetSession exposes a read-only session lookup for the transport layer.
func (s *Service) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	return s.store.GetSession(ctx, sessionID)
}
