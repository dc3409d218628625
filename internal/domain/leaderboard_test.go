package domain

import (
	"testing"
	"time"
)

func TestBuildLeaderboardOrdering(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	participants := []Participant{
		{ID: "p1", DisplayName: "ada", Score: 100, LastScoredAt: base.Add(2 * time.Second)},
		{ID: "p2", DisplayName: "grace", Score: 250, LastScoredAt: base.Add(5 * time.Second)},
		{ID: "p3", DisplayName: "edsger", Score: 100, LastScoredAt: base.Add(time.Second)},
		{ID: "p4", DisplayName: "barbara", Score: 0},
	}

	board := BuildLeaderboard(participants)

	want := []string{"p2", "p3", "p1", "p4"}
	if len(board) != len(want) {
		t.Fatalf("board len = %d, want %d", len(board), len(want))
	}
	for i, id := range want {
		if board[i].ParticipantID != id {
			t.Fatalf("board[%d] = %s, want %s (full %+v)", i, board[i].ParticipantID, id, board)
		}
	}
}

func TestBuildLeaderboardTieBreaksByName(t *testing.T) {
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	participants := []Participant{
		{ID: "p1", DisplayName: "zoe", Score: 100, LastScoredAt: at},
		{ID: "p2", DisplayName: "amy", Score: 100, LastScoredAt: at},
	}

	board := BuildLeaderboard(participants)
	if board[0].DisplayName != "amy" {
		t.Fatalf("tie break order = %s then %s, want amy first", board[0].DisplayName, board[1].DisplayName)
	}
}

func TestBuildLeaderboardDoesNotMutateInput(t *testing.T) {
	participants := []Participant{
		{ID: "p1", DisplayName: "ada", Score: 1},
		{ID: "p2", DisplayName: "grace", Score: 2},
	}
	BuildLeaderboard(participants)
	if participants[0].ID != "p1" {
		t.Fatal("input slice reordered")
	}
}
