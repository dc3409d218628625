package domain

import "sort"

// BuildLeaderboard orders participants by score descending. Ties go to
// whoever reached the score earlier (lower LastScoredAt), then by name.
func BuildLeaderboard(participants []Participant) []LeaderboardEntry {
	sorted := make([]Participant, len(participants))
	copy(sorted, participants)

	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		if !sorted[i].LastScoredAt.Equal(sorted[j].LastScoredAt) {
			return sorted[i].LastScoredAt.Before(sorted[j].LastScoredAt)
		}
		return sorted[i].DisplayName < sorted[j].DisplayName
	})

	entries := make([]LeaderboardEntry, 0, len(sorted))
	for _, p := range sorted {
		entries = append(entries, LeaderboardEntry{
			ParticipantID: p.ID,
			DisplayName:   p.DisplayName,
			Score:         p.Score,
			Streak:        p.Streak,
		})
	}
	return entries
}
