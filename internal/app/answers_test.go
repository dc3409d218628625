package app_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"quiz-sync-service/internal/app"
	"quiz-sync-service/internal/domain"
)

func TestSubmitAnswerOutsideWindow(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	ctx := context.Background()

	sess, err := svc.CreateSession(ctx)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	q := addQuestion(t, svc, sess.ID, "q1", "what color is the sky", 2)
	p := joinAndAttach(t, svc, sess.AccessCode, "ada", "c1")

	// Still in lobby: no window open.
	_, err = svc.SubmitAnswer(ctx, app.Submission{
		SessionID:     sess.ID,
		ParticipantID: p.ID,
		QuestionID:    q.ID,
		MessageID:     "a1",
		OptionIndex:   2,
	})
	if !errors.Is(err, domain.ErrWindowClosed) {
		t.Fatalf("lobby submit err = %v, want ErrWindowClosed", err)
	}

	if _, err := svc.Start(ctx, hostCtrl(sess.ID, "m1")); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.OpenQuestion(ctx, hostCtrl(sess.ID, "m2"), 0); err != nil {
		t.Fatalf("open question: %v", err)
	}
	if _, err := svc.ShowResults(ctx, hostCtrl(sess.ID, "m3")); err != nil {
		t.Fatalf("show results: %v", err)
	}

	// Window closed again after results.
	_, err = svc.SubmitAnswer(ctx, app.Submission{
		SessionID:     sess.ID,
		ParticipantID: p.ID,
		QuestionID:    q.ID,
		MessageID:     "a2",
		OptionIndex:   2,
	})
	if !errors.Is(err, domain.ErrWindowClosed) {
		t.Fatalf("post-results submit err = %v, want ErrWindowClosed", err)
	}
}

func TestSubmitAnswerForQuestionNotOpen(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	ctx := context.Background()

	sess, err := svc.CreateSession(ctx)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	addQuestion(t, svc, sess.ID, "q1", "first", 0)
	other := addQuestion(t, svc, sess.ID, "q2", "second", 1)
	p := joinAndAttach(t, svc, sess.AccessCode, "ada", "c1")

	if _, err := svc.Start(ctx, hostCtrl(sess.ID, "m1")); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.OpenQuestion(ctx, hostCtrl(sess.ID, "m2"), 0); err != nil {
		t.Fatalf("open question: %v", err)
	}

	// Question 0 is open; answering question 1 is rejected.
	_, err = svc.SubmitAnswer(ctx, app.Submission{
		SessionID:     sess.ID,
		ParticipantID: p.ID,
		QuestionID:    other.ID,
		MessageID:     "a1",
		OptionIndex:   1,
	})
	if !errors.Is(err, domain.ErrWindowClosed) {
		t.Fatalf("wrong question submit err = %v, want ErrWindowClosed", err)
	}
}

func TestDuplicateSubmissionReturnsOriginalResult(t *testing.T) {
	svc, _, pub := newTestService(t, nil)
	ctx := context.Background()

	sess, err := svc.CreateSession(ctx)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	q := addQuestion(t, svc, sess.ID, "q1", "what color is the sky", 2)
	p := joinAndAttach(t, svc, sess.AccessCode, "ada", "c1")

	if _, err := svc.Start(ctx, hostCtrl(sess.ID, "m1")); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.OpenQuestion(ctx, hostCtrl(sess.ID, "m2"), 0); err != nil {
		t.Fatalf("open question: %v", err)
	}

	first, err := svc.SubmitAnswer(ctx, app.Submission{
		SessionID:     sess.ID,
		ParticipantID: p.ID,
		QuestionID:    q.ID,
		MessageID:     "a1",
		OptionIndex:   2,
		TimeToAnswer:  3 * time.Second,
	})
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if !first.Correct || first.PointsEarned != 100 || first.Score != 100 || first.Streak != 1 {
		t.Fatalf("first result = %+v, want correct, 100 points, streak 1", first)
	}

	// A retry, even with a different option, replays the stored result.
	second, err := svc.SubmitAnswer(ctx, app.Submission{
		SessionID:     sess.ID,
		ParticipantID: p.ID,
		QuestionID:    q.ID,
		MessageID:     "a2",
		OptionIndex:   0,
	})
	if err != nil {
		t.Fatalf("duplicate submit: %v", err)
	}
	if second.Score != 100 || second.PointsEarned != 100 || !second.Correct {
		t.Fatalf("duplicate result = %+v, want the original score unchanged", second)
	}

	if n := len(pub.byType(domain.EventAnswerSubmitted)); n != 1 {
		t.Fatalf("answer-submitted broadcasts = %d, want 1 (no re-broadcast on replay)", n)
	}
	if n := len(pub.byType(domain.EventAnswerConfirmed)); n != 2 {
		t.Fatalf("answer-confirmed replies = %d, want one per submission", n)
	}
}

func TestWrongAnswerResetsStreak(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	ctx := context.Background()

	sess, err := svc.CreateSession(ctx)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	q1 := addQuestion(t, svc, sess.ID, "q1", "first", 0)
	q2 := addQuestion(t, svc, sess.ID, "q2", "second", 1)
	p := joinAndAttach(t, svc, sess.AccessCode, "ada", "c1")

	if _, err := svc.Start(ctx, hostCtrl(sess.ID, "m1")); err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := svc.OpenQuestion(ctx, hostCtrl(sess.ID, "m2"), 0); err != nil {
		t.Fatalf("open q1: %v", err)
	}
	res, err := svc.SubmitAnswer(ctx, app.Submission{
		SessionID: sess.ID, ParticipantID: p.ID, QuestionID: q1.ID, MessageID: "a1", OptionIndex: 0,
	})
	if err != nil {
		t.Fatalf("submit q1: %v", err)
	}
	if res.Streak != 1 {
		t.Fatalf("streak after correct = %d, want 1", res.Streak)
	}

	if _, err := svc.OpenQuestion(ctx, hostCtrl(sess.ID, "m3"), 1); err != nil {
		t.Fatalf("open q2: %v", err)
	}
	res, err = svc.SubmitAnswer(ctx, app.Submission{
		SessionID: sess.ID, ParticipantID: p.ID, QuestionID: q2.ID, MessageID: "a2", OptionIndex: 3,
	})
	if err != nil {
		t.Fatalf("submit q2: %v", err)
	}
	if res.Correct || res.PointsEarned != 0 || res.Streak != 0 {
		t.Fatalf("wrong answer result = %+v, want 0 points and streak reset", res)
	}
	if res.Score != 100 {
		t.Fatalf("score = %d, want unchanged 100", res.Score)
	}
}

func TestSpeedAndStreakBonusApplied(t *testing.T) {
	bonus := app.NewBonus(app.BonusConfig{
		SpeedEnabled:  true,
		SpeedMax:      50,
		StreakEnabled: true,
		StreakStep:    10,
		StreakCap:     30,
	})
	svc, _, _ := newTestService(t, bonus)
	ctx := context.Background()

	sess, err := svc.CreateSession(ctx)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	q1 := addQuestion(t, svc, sess.ID, "q1", "first", 0)
	q2 := addQuestion(t, svc, sess.ID, "q2", "second", 0)
	p := joinAndAttach(t, svc, sess.AccessCode, "ada", "c1")

	if _, err := svc.Start(ctx, hostCtrl(sess.ID, "m1")); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.OpenQuestion(ctx, hostCtrl(sess.ID, "m2"), 0); err != nil {
		t.Fatalf("open q1: %v", err)
	}

	// Half the 30s limit used: 100 base + 25 speed, no streak yet.
	res, err := svc.SubmitAnswer(ctx, app.Submission{
		SessionID: sess.ID, ParticipantID: p.ID, QuestionID: q1.ID, MessageID: "a1",
		OptionIndex: 0, TimeToAnswer: 15 * time.Second,
	})
	if err != nil {
		t.Fatalf("submit q1: %v", err)
	}
	if res.PointsEarned != 125 {
		t.Fatalf("points = %d, want 125", res.PointsEarned)
	}

	if _, err := svc.OpenQuestion(ctx, hostCtrl(sess.ID, "m3"), 1); err != nil {
		t.Fatalf("open q2: %v", err)
	}

	// Instant answer on a streak of 1: 100 + 50 speed + 10 streak.
	res, err = svc.SubmitAnswer(ctx, app.Submission{
		SessionID: sess.ID, ParticipantID: p.ID, QuestionID: q2.ID, MessageID: "a2",
		OptionIndex: 0, TimeToAnswer: 0,
	})
	if err != nil {
		t.Fatalf("submit q2: %v", err)
	}
	if res.PointsEarned != 160 {
		t.Fatalf("points = %d, want 160", res.PointsEarned)
	}
	if res.Score != 125+160 {
		t.Fatalf("score = %d, want %d", res.Score, 125+160)
	}
}

func TestConcurrentSubmissionsAllCounted(t *testing.T) {
	svc, st, _ := newTestService(t, nil)
	ctx := context.Background()

	sess, err := svc.CreateSession(ctx)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	q := addQuestion(t, svc, sess.ID, "q1", "what color is the sky", 2)

	const n = 16
	participants := make([]domain.Participant, n)
	for i := range participants {
		participants[i] = joinAndAttach(t, svc, sess.AccessCode, fmt.Sprintf("player-%d", i), fmt.Sprintf("c%d", i))
	}

	if _, err := svc.Start(ctx, hostCtrl(sess.ID, "m1")); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.OpenQuestion(ctx, hostCtrl(sess.ID, "m2"), 0); err != nil {
		t.Fatalf("open question: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i, p := range participants {
		wg.Add(1)
		go func(i int, p domain.Participant) {
			defer wg.Done()
			_, err := svc.SubmitAnswer(ctx, app.Submission{
				SessionID:     sess.ID,
				ParticipantID: p.ID,
				QuestionID:    q.ID,
				MessageID:     fmt.Sprintf("a%d", i),
				OptionIndex:   i % 4,
			})
			if err != nil {
				errs <- err
			}
		}(i, p)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent submit: %v", err)
	}

	count, err := st.CountAnswers(ctx, sess.ID, q.ID)
	if err != nil {
		t.Fatalf("count answers: %v", err)
	}
	if count != n {
		t.Fatalf("answered count = %d, want %d", count, n)
	}
}

// Full lifecycle: lobby, two joins, a scored question, results, finish.
func TestSessionLifecycle(t *testing.T) {
	svc, _, pub := newTestService(t, nil)
	ctx := context.Background()

	sess, err := svc.CreateSession(ctx)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	q := addQuestion(t, svc, sess.ID, "q1", "what color is the sky", 2)

	ada := joinAndAttach(t, svc, sess.AccessCode, "ada", "c1")
	grace := joinAndAttach(t, svc, sess.AccessCode, "grace", "c2")

	if _, err := svc.Start(ctx, hostCtrl(sess.ID, "start-1")); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.OpenQuestion(ctx, hostCtrl(sess.ID, "open-1"), 0); err != nil {
		t.Fatalf("open question: %v", err)
	}

	adaRes, err := svc.SubmitAnswer(ctx, app.Submission{
		SessionID: sess.ID, ParticipantID: ada.ID, QuestionID: q.ID, MessageID: "a1", OptionIndex: 2,
	})
	if err != nil {
		t.Fatalf("ada submit: %v", err)
	}
	if !adaRes.Correct || adaRes.Score != 100 {
		t.Fatalf("ada result = %+v, want correct with score 100", adaRes)
	}
	if adaRes.ParticipantCount != 2 || adaRes.AnsweredCount != 1 {
		t.Fatalf("ada counts = %d/%d, want 1 of 2 answered", adaRes.AnsweredCount, adaRes.ParticipantCount)
	}

	graceRes, err := svc.SubmitAnswer(ctx, app.Submission{
		SessionID: sess.ID, ParticipantID: grace.ID, QuestionID: q.ID, MessageID: "a2", OptionIndex: 0,
	})
	if err != nil {
		t.Fatalf("grace submit: %v", err)
	}
	if graceRes.Correct || graceRes.Score != 0 {
		t.Fatalf("grace result = %+v, want incorrect with score 0", graceRes)
	}
	if graceRes.AnsweredCount != 2 {
		t.Fatalf("answered count = %d, want 2", graceRes.AnsweredCount)
	}

	if _, err := svc.ShowResults(ctx, hostCtrl(sess.ID, "results-1")); err != nil {
		t.Fatalf("show results: %v", err)
	}

	board, err := svc.Leaderboard(ctx, sess.ID)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(board) != 2 || board[0].DisplayName != "ada" || board[0].Score != 100 {
		t.Fatalf("leaderboard = %+v, want ada first with 100", board)
	}

	final, err := svc.End(ctx, hostCtrl(sess.ID, "end-1"))
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if final.State != domain.StateFinished || final.IsActive {
		t.Fatalf("final session = %+v, want finished and inactive", final)
	}

	_, err = svc.OpenQuestion(ctx, hostCtrl(sess.ID, "open-2"), 0)
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("open after finish err = %v, want ErrInvalidState", err)
	}

	if n := len(pub.byType(domain.EventFinishQuiz)); n != 1 {
		t.Fatalf("FINISH_QUIZ broadcasts = %d, want 1", n)
	}
}
