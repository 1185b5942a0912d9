package scoring

import (
	"math"
	"sort"
	"time"
)

// Weights are the components of the composite smart score.
type Weights struct {
	Relevance float64 `koanf:"relevance"`
	Recency   float64 `koanf:"recency"`
	Access    float64 `koanf:"access"`
}

// DefaultWeights returns 0.5 relevance, 0.3 recency, 0.2 access.
func DefaultWeights() Weights {
	return Weights{Relevance: 0.5, Recency: 0.3, Access: 0.2}
}

// RecencyBucket maps an age to 1.0 (under a week), 0.8 (under 30 days) or 0.5.
func RecencyBucket(age time.Duration) float64 {
	switch {
	case age < 7*day:
		return 1.0
	case age < 30*day:
		return 0.8
	default:
		return 0.5
	}
}

// UsageBucket returns min(1, accessCount/10).
func UsageBucket(accessCount int) float64 {
	return math.Min(1, float64(accessCount)/10)
}

// SmartScore combines similarity (percent), creation age and access count,
// rounded to two decimals. A zero createdAt counts as brand new.
func (w Weights) SmartScore(similarity float64, createdAt time.Time, accessCount int, now time.Time) float64 {
	age := time.Duration(0)
	if !createdAt.IsZero() {
		age = now.Sub(createdAt)
	}
	score := similarity/100*w.Relevance + RecencyBucket(age)*w.Recency + UsageBucket(accessCount)*w.Access
	return math.Round(score*100) / 100
}

// Scorable is implemented by search results that can be smart-ranked.
type Scorable interface {
	SmartInputs() (similarity float64, createdAt time.Time, accessCount int)
	SetSmartScore(score float64)
	GetSmartScore() float64
}

// ApplySmartRanking scores every item and sorts by descending score. The sort
// is stable so equal scores keep their retrieval order.
func ApplySmartRanking[T Scorable](items []T, w Weights, now time.Time) []T {
	for _, it := range items {
		sim, created, access := it.SmartInputs()
		it.SetSmartScore(w.SmartScore(sim, created, access, now))
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].GetSmartScore() > items[j].GetSmartScore()
	})
	return items
}
