package scoring

import (
	"fmt"
	"math"
	"time"
)

// ReviewGrade is the outcome of a review, on the FSRS 1-4 scale.
type ReviewGrade int

const (
	GradeAgain ReviewGrade = iota + 1
	GradeHard
	GradeGood
	GradeEasy
)

const (
	DefaultDifficulty = 5.0
	minDifficulty     = 1.0
	maxDifficulty     = 10.0
	minStability      = 0.1

	// DesiredRetention is the retrievability at which the next review is due.
	DesiredRetention = 0.9
)

// ParseGrade validates g.
func ParseGrade(g int) (ReviewGrade, error) {
	if g < int(GradeAgain) || g > int(GradeEasy) {
		return 0, fmt.Errorf("scoring: review grade %d out of range 1-4", g)
	}
	return ReviewGrade(g), nil
}

// ReviewState is the FSRS state carried by a record.
type ReviewState struct {
	Stability   float64
	Difficulty  float64
	LastReview  *time.Time
	ReviewCount int
}

// ReviewOutcome is the state after a review.
type ReviewOutcome struct {
	Stability      float64
	Difficulty     float64
	ReviewedAt     time.Time
	ReviewCount    int
	Retrievability float64 // before the review
	NextReview     time.Time
}

// Review advances state by one review graded g at now.
func Review(state ReviewState, g ReviewGrade, now time.Time) ReviewOutcome {
	s := state.Stability
	if s <= 0 {
		s = DefaultStability
	}
	d := state.Difficulty
	if d <= 0 {
		d = DefaultDifficulty
	}

	elapsed := 0.0
	if state.LastReview != nil {
		elapsed = DaysBetween(*state.LastReview, now)
	}
	r := Retrievability(elapsed, s)

	newS := nextStability(s, d, g, r)
	return ReviewOutcome{
		Stability:      newS,
		Difficulty:     nextDifficulty(d, g),
		ReviewedAt:     now,
		ReviewCount:    state.ReviewCount + 1,
		Retrievability: r,
		NextReview:     now.Add(time.Duration(OptimalInterval(newS, DesiredRetention)) * day),
	}
}

func nextStability(s, d float64, g ReviewGrade, r float64) float64 {
	if g == GradeAgain {
		return math.Max(minStability, s*0.2)
	}
	difficultyFactor := 1 + (11-d)*0.1
	gradeFactor := 0.8
	switch g {
	case GradeEasy:
		gradeFactor = 1.3
	case GradeGood:
		gradeFactor = 1.0
	}
	retrievabilityBonus := 1 + (1-r)*0.5
	return math.Max(minStability, s*difficultyFactor*gradeFactor*retrievabilityBonus)
}

func nextDifficulty(d float64, g ReviewGrade) float64 {
	switch g {
	case GradeAgain:
		d += 1.0
	case GradeHard:
		d += 0.5
	case GradeEasy:
		d -= 0.5
	}
	return math.Max(minDifficulty, math.Min(maxDifficulty, d))
}

// OptimalInterval returns the whole number of days (at least 1) after which
// retrievability drops to retention.
func OptimalInterval(stability, retention float64) int {
	if stability <= 0 || retention <= 0 || retention >= 1 {
		return 1
	}
	interval := stability / FSRSFactor * (math.Pow(retention, 1/FSRSDecay) - 1)
	return int(math.Max(1, math.Round(interval)))
}
