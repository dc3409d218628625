package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType enumerates every message that crosses the session channel.
type EventType string

const (
	EventStartQuiz         EventType = "START_QUIZ"
	EventStartQuestion     EventType = "START_QUESTION"
	EventShowResults       EventType = "SHOW_RESULTS"
	EventFinishQuiz        EventType = "FINISH_QUIZ"
	EventNextQuestion      EventType = "NEXT_QUESTION"
	EventParticipantUpdate EventType = "PARTICIPANT_UPDATE"
	EventLeaderboardUpdate EventType = "LEADERBOARD_UPDATE"
	EventQuestionAdded     EventType = "QUESTION_ADDED"
	EventConnectionLost    EventType = "CONNECTION_LOST"

	EventAnswerSubmitted EventType = "answer-submitted"
	EventAnswerConfirmed EventType = "answer-confirmed"
	EventAnswerError     EventType = "answer-error"
)

// Envelope is the wire-level wrapper exchanged over the pub/sub channel.
// Target, when set, restricts delivery to the subscription whose identity
// matches; the transport primitive itself only knows topic broadcast.
type Envelope struct {
	Type      EventType       `json:"type"`
	SessionID string          `json:"sessionId"`
	MessageID string          `json:"messageId"`
	Timestamp int64           `json:"timestamp"`
	Target    string          `json:"target,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope wraps a typed payload into an envelope.
func NewEnvelope(typ EventType, sessionID, messageID string, at time.Time, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return Envelope{
		Type:      typ,
		SessionID: sessionID,
		MessageID: messageID,
		Timestamp: at.UnixMilli(),
		Data:      raw,
	}, nil
}

// SessionSnapshot is the canonical state view broadcast on every transition.
type SessionSnapshot struct {
	SessionID       string       `json:"sessionId"`
	AccessCode      string       `json:"accessCode"`
	State           SessionState `json:"state"`
	CurrentQuestion int          `json:"currentQuestion"`
	ShowResults     bool         `json:"showResults"`
	IsActive        bool         `json:"isActive"`
}

// SnapshotOf builds the broadcastable view of a session.
func SnapshotOf(s Session) SessionSnapshot {
	return SessionSnapshot{
		SessionID:       s.ID,
		AccessCode:      s.AccessCode,
		State:           s.State,
		CurrentQuestion: s.CurrentQuestion,
		ShowResults:     s.ShowResults,
		IsActive:        s.IsActive,
	}
}

// StartQuizData announces Lobby -> Active.
type StartQuizData struct {
	Session SessionSnapshot `json:"session"`
}

// StartQuestionData opens a question window. The correct option is never
// included here.
type StartQuestionData struct {
	Session     SessionSnapshot `json:"session"`
	QuestionID  string          `json:"questionId"`
	Index       int             `json:"index"`
	Prompt      string          `json:"prompt"`
	Options     []string        `json:"options"`
	TimeLimitMS int64           `json:"timeLimitMs"`
	Points      int             `json:"points"`
}

// ShowResultsData closes the window and carries the current standings.
type ShowResultsData struct {
	Session     SessionSnapshot    `json:"session"`
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
}

// FinishQuizData announces the terminal state with final standings.
type FinishQuizData struct {
	Session     SessionSnapshot    `json:"session"`
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
}

// ParticipantUpdateData reports joins and leaves with the live member count.
type ParticipantUpdateData struct {
	DisplayName      string `json:"displayName"`
	Joined           bool   `json:"joined"`
	ParticipantCount int    `json:"participantCount"`
}

// LeaderboardUpdateData carries the ordered scoreboard.
type LeaderboardUpdateData struct {
	Entries []LeaderboardEntry `json:"entries"`
}

// QuestionAddedData announces a new lobby-phase question.
type QuestionAddedData struct {
	QuestionID    string `json:"questionId"`
	Index         int    `json:"index"`
	QuestionCount int    `json:"questionCount"`
}

// AnswerSubmittedData is the aggregate-only broadcast after a scored answer.
// It deliberately omits who answered what.
type AnswerSubmittedData struct {
	QuestionID       string `json:"questionId"`
	AnsweredCount    int    `json:"answeredCount"`
	ParticipantCount int    `json:"participantCount"`
}

// AnswerConfirmedData is the private reply to the submitter.
type AnswerConfirmedData struct {
	QuestionID   string `json:"questionId"`
	Correct      bool   `json:"correct"`
	PointsEarned int    `json:"pointsEarned"`
	Score        int    `json:"score"`
	Streak       int    `json:"streak"`
}

// AnswerErrorData is the private structured error reply.
type AnswerErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ConnectionLostData is synthesized locally when a channel is torn down after
// reconnect attempts are exhausted.
type ConnectionLostData struct {
	Reason string `json:"reason"`
}

// DecodeData checks the envelope payload at the boundary and returns the
// typed value for its Type. Unknown types are rejected.
func (e Envelope) DecodeData() (any, error) {
	decode := func(v any) (any, error) {
		if len(e.Data) == 0 {
			return v, nil
		}
		if err := json.Unmarshal(e.Data, v); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", e.Type, err)
		}
		return v, nil
	}

	switch e.Type {
	case EventStartQuiz:
		return decode(&StartQuizData{})
	case EventStartQuestion, EventNextQuestion:
		return decode(&StartQuestionData{})
	case EventShowResults:
		return decode(&ShowResultsData{})
	case EventFinishQuiz:
		return decode(&FinishQuizData{})
	case EventParticipantUpdate:
		return decode(&ParticipantUpdateData{})
	case EventLeaderboardUpdate:
		return decode(&LeaderboardUpdateData{})
	case EventQuestionAdded:
		return decode(&QuestionAddedData{})
	case EventAnswerSubmitted:
		return decode(&AnswerSubmittedData{})
	case EventAnswerConfirmed:
		return decode(&AnswerConfirmedData{})
	case EventAnswerError:
		return decode(&AnswerErrorData{})
	case EventConnectionLost:
		return decode(&ConnectionLostData{})
	default:
		return nil, fmt.Errorf("unknown envelope type %q", e.Type)
	}
}
