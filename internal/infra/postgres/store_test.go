package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"quiz-sync-service/internal/domain"
	"quiz-sync-service/internal/store"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	sqldb, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqldb.Close() })
	return NewStore(bun.NewDB(sqldb, pgdialect.New())), mock
}

func sessionColumns() []string {
	return []string{"id", "access_code", "state", "current_question", "question_started_at", "show_results", "is_active", "created_at", "started_at"}
}

func TestGetSession(t *testing.T) {
	st, mock := newMockStore(t)
	created := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT .+ FROM "sessions"`).
		WillReturnRows(sqlmock.NewRows(sessionColumns()).
			AddRow("s1", "ABCD2345", "question_open", 2, created, false, true, created, created))

	sess, err := st.GetSession(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", sess.ID)
	assert.Equal(t, domain.StateQuestionOpen, sess.State)
	assert.Equal(t, 2, sess.CurrentQuestion)
	assert.True(t, sess.IsActive)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSessionNotFound(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .+ FROM "sessions"`).
		WillReturnRows(sqlmock.NewRows(sessionColumns()))

	_, err := st.GetSession(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateSessionPatchesAndRereads(t *testing.T) {
	st, mock := newMockStore(t)
	created := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(`UPDATE "sessions" .*SET.*state`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT .+ FROM "sessions"`).
		WillReturnRows(sqlmock.NewRows(sessionColumns()).
			AddRow("s1", "ABCD2345", "active", 0, time.Time{}, false, true, created, created))

	state := domain.StateActive
	sess, err := st.UpdateSession(context.Background(), "s1", store.SessionPatch{State: &state})
	require.NoError(t, err)
	assert.Equal(t, domain.StateActive, sess.State)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateSessionMissingRow(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE "sessions"`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	state := domain.StateActive
	_, err := st.UpdateSession(context.Background(), "missing", store.SessionPatch{State: &state})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateSessionEmptyPatchOnlyReads(t *testing.T) {
	st, mock := newMockStore(t)
	created := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	// No UPDATE expected for an empty patch.
	mock.ExpectQuery(`SELECT .+ FROM "sessions"`).
		WillReturnRows(sqlmock.NewRows(sessionColumns()).
			AddRow("s1", "ABCD2345", "lobby", 0, time.Time{}, false, true, created, time.Time{}))

	sess, err := st.UpdateSession(context.Background(), "s1", store.SessionPatch{})
	require.NoError(t, err)
	assert.Equal(t, domain.StateLobby, sess.State)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetQuestionByIndexParsesOptionsArray(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .+ FROM "questions"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "session_id", "idx", "prompt", "options", "correct_option", "time_limit_ms", "points"}).
			AddRow("q1", "s1", 0, "What is 2 + 2?", `{"3","4","5"}`, 1, int64(30000), 100))

	q, err := st.GetQuestionByIndex(context.Background(), "s1", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"3", "4", "5"}, q.Options)
	assert.Equal(t, 1, q.CorrectOption)
	assert.Equal(t, 30*time.Second, q.TimeLimit)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateParticipant(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO "participants"`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := st.CreateParticipant(context.Background(), &domain.Participant{
		ID:          "p1",
		SessionID:   "s1",
		DisplayName: "ada",
		ContactKey:  "device-1",
		LastSeen:    time.Now(),
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertAnswerPersistenceError(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO "answers"`).
		WillReturnError(sql.ErrConnDone)

	err := st.InsertAnswer(context.Background(), &domain.Answer{
		ID: "a1", SessionID: "s1", ParticipantID: "p1", QuestionID: "q1",
	})
	assert.ErrorIs(t, err, domain.ErrPersistence)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountAnswers(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT count`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	count, err := st.CountAnswers(context.Background(), "s1", "q1")
	require.NoError(t, err)
	assert.Equal(t, 7, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAnswerRoundTripsDurations(t *testing.T) {
	st, mock := newMockStore(t)
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT .+ FROM "answers"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "session_id", "participant_id", "question_id", "option_index", "correct", "points_earned", "time_to_answer_ms", "submitted_at"}).
			AddRow("a1", "s1", "p1", "q1", 2, true, 125, int64(1500), at))

	answer, err := st.GetAnswer(context.Background(), "p1", "q1")
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, answer.TimeToAnswer)
	assert.Equal(t, 125, answer.PointsEarned)
	assert.True(t, answer.Correct)
	assert.NoError(t, mock.ExpectationsWereMet())
}
