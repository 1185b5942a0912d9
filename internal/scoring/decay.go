// Package scoring implements the temporal decay model, the composite
// "smart" rank score and the MMR diversity re-ranker.
package scoring

import (
	"math"
	"time"

	"github.com/scrypster/memindex/pkg/types"
)

const (
	// FSRSFactor is the FSRS v4 retrievability constant F = 19/81.
	FSRSFactor = 19.0 / 81.0

	// FSRSDecay is the power-law exponent of the retrievability curve.
	FSRSDecay = -0.5

	// DefaultHalfLifeDays is used when a record has no usable half-life.
	DefaultHalfLifeDays = 90.0

	// DefaultStability is used when a record has no usable stability.
	DefaultStability = 1.0

	day = 24 * time.Hour
)

// Retrievability returns R(t) = (1 + F*t/S)^-0.5 for elapsed days t and
// stability S, clamped to [0, 1]. A non-positive stability falls back to 1.0
// and negative elapsed time to 0.
func Retrievability(elapsedDays, stability float64) float64 {
	if stability <= 0 {
		stability = DefaultStability
	}
	if elapsedDays < 0 {
		elapsedDays = 0
	}
	r := math.Pow(1+FSRSFactor*elapsedDays/stability, FSRSDecay)
	return math.Max(0, math.Min(1, r))
}

// HalfLifeDecay returns 0.5^(t/H). A non-positive half-life falls back to 90 days.
func HalfLifeDecay(elapsedDays, halfLifeDays float64) float64 {
	if halfLifeDays <= 0 {
		halfLifeDays = DefaultHalfLifeDays
	}
	if elapsedDays < 0 {
		elapsedDays = 0
	}
	return math.Pow(0.5, elapsedDays/halfLifeDays)
}

// DaysBetween returns the fractional days from since to now.
func DaysBetween(since, now time.Time) float64 {
	return float64(now.Sub(since)) / float64(day)
}

// EffectiveImportance returns the record's importance at now:
//   - pinned records, and records in a tier that does not decay, use
//     importance_weight unchanged
//   - with review history (last_review set, review_count > 0) the weight is
//     scaled by FSRS retrievability since last_review
//   - otherwise the weight halves every decay_half_life_days since updated_at
func EffectiveImportance(rec *types.MemoryRecord, now time.Time) float64 {
	w := rec.ImportanceWeight
	if rec.IsPinned || !rec.ImportanceTier.Config().Decay {
		return w
	}
	if rec.LastReview != nil && rec.ReviewCount > 0 {
		return w * Retrievability(DaysBetween(*rec.LastReview, now), rec.Stability)
	}
	return w * HalfLifeDecay(DaysBetween(rec.UpdatedAt, now), rec.DecayHalfLifeDays)
}
