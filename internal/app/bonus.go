package app

import (
	"math"
	"time"
)

// BonusFunc computes the additive bonus for a correct answer from the answer
// speed and the participant's streak going into this question. It must be
// monotonic: answering faster or on a longer streak never lowers the bonus.
type BonusFunc func(timeToAnswer, timeLimit time.Duration, streak int) int

// BonusConfig builds the default bonus from configuration; disabled flags
// zero the corresponding term.
type BonusConfig struct {
	SpeedEnabled  bool
	SpeedMax      int
	StreakEnabled bool
	StreakStep    int
	StreakCap     int
}

// NoBonus awards base points only.
func NoBonus(time.Duration, time.Duration, int) int { return 0 }

// NewBonus returns the configured bonus: a linear speed term scaled by how
// much of the time limit was left, plus a capped per-streak step.
func NewBonus(cfg BonusConfig) BonusFunc {
	return func(timeToAnswer, timeLimit time.Duration, streak int) int {
		bonus := 0
		if cfg.SpeedEnabled && cfg.SpeedMax > 0 && timeLimit > 0 {
			remaining := 1 - float64(timeToAnswer)/float64(timeLimit)
			if remaining > 0 {
				bonus += int(math.Round(float64(cfg.SpeedMax) * remaining))
			}
		}
		if cfg.StreakEnabled && cfg.StreakStep > 0 && streak > 0 {
			streakBonus := streak * cfg.StreakStep
			if cfg.StreakCap > 0 && streakBonus > cfg.StreakCap {
				streakBonus = cfg.StreakCap
			}
			bonus += streakBonus
		}
		return bonus
	}
}
