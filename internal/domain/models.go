package domain

import "time"

// Role is the claimed role on an inbound control or answer message.
type Role string

const (
	RoleHost        Role = "host"
	RoleParticipant Role = "participant"
)

// SessionState is the lifecycle state of a quiz session.
type SessionState string

const (
	StateLobby        SessionState = "lobby"
	StateActive       SessionState = "active"
	StateQuestionOpen SessionState = "question_open"
	StateResultsShown SessionState = "results_shown"
	StateFinished     SessionState = "finished"
)

// Session is one instance of a quiz being run.
type Session struct {
	ID                string       `json:"id"`
	AccessCode        string       `json:"accessCode"`
	State             SessionState `json:"state"`
	CurrentQuestion   int          `json:"currentQuestion"`
	QuestionStartedAt time.Time    `json:"questionStartedAt"`
	ShowResults       bool         `json:"showResults"`
	IsActive          bool         `json:"isActive"`
	CreatedAt         time.Time    `json:"createdAt"`
	StartedAt         time.Time    `json:"startedAt"`
}

// Participant is a member of a session. Score is monotonically non-decreasing
// within a session; ContactKey re-identifies the participant on reconnect.
type Participant struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"sessionId"`
	DisplayName  string    `json:"displayName"`
	ContactKey   string    `json:"-"`
	Score        int       `json:"score"`
	Streak       int       `json:"streak"`
	LastSeen     time.Time `json:"lastSeen"`
	LastScoredAt time.Time `json:"-"`
}

// Question is immutable once its session leaves the lobby.
type Question struct {
	ID            string        `json:"id"`
	SessionID     string        `json:"sessionId"`
	Index         int           `json:"index"`
	Prompt        string        `json:"prompt"`
	Options       []string      `json:"options"`
	CorrectOption int           `json:"-"`
	TimeLimit     time.Duration `json:"timeLimit"`
	Points        int           `json:"points"` // defaults to 100 if zero
}

// BasePoints returns the question's point value with the default applied.
func (q Question) BasePoints() int {
	if q.Points == 0 {
		return 100
	}
	return q.Points
}

// Answer records one submission. Unique per (participant, question).
type Answer struct {
	ID            string        `json:"id"`
	SessionID     string        `json:"sessionId"`
	ParticipantID string        `json:"participantId"`
	QuestionID    string        `json:"questionId"`
	OptionIndex   int           `json:"optionIndex"`
	Correct       bool          `json:"correct"`
	PointsEarned  int           `json:"pointsEarned"`
	TimeToAnswer  time.Duration `json:"timeToAnswer"`
	SubmittedAt   time.Time     `json:"submittedAt"`
}

// LeaderboardEntry is a snapshot-friendly view of a participant.
type LeaderboardEntry struct {
	ParticipantID string `json:"participantId"`
	DisplayName   string `json:"displayName"`
	Score         int    `json:"score"`
	Streak        int    `json:"streak"`
}
