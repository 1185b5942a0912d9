package scoring

import (
	"testing"
	"time"
)

type item struct {
	name    string
	sim     float64
	created time.Time
	access  int
	score   float64
}

func (i *item) SmartInputs() (float64, time.Time, int) { return i.sim, i.created, i.access }
func (i *item) SetSmartScore(s float64)                { i.score = s }
func (i *item) GetSmartScore() float64                 { return i.score }

func TestRecencyBucket(t *testing.T) {
	tests := []struct {
		age  time.Duration
		want float64
	}{
		{0, 1.0},
		{6 * day, 1.0},
		{7 * day, 0.8},
		{29 * day, 0.8},
		{30 * day, 0.5},
		{400 * day, 0.5},
	}
	for _, tt := range tests {
		if got := RecencyBucket(tt.age); got != tt.want {
			t.Errorf("RecencyBucket(%v) = %v, want %v", tt.age, got, tt.want)
		}
	}
}

func TestSmartScore(t *testing.T) {
	w := DefaultWeights()
	// 0.8*0.5 + 1.0*0.3 + 0.5*0.2 = 0.8
	if got := w.SmartScore(80, refNow, 5, refNow); got != 0.8 {
		t.Errorf("SmartScore = %v, want 0.8", got)
	}
	// usage saturates at 10 accesses
	if a, b := w.SmartScore(50, refNow, 10, refNow), w.SmartScore(50, refNow, 50, refNow); a != b {
		t.Errorf("usage should saturate: %v != %v", a, b)
	}
}

func TestApplySmartRanking(t *testing.T) {
	items := []*item{
		{name: "old", sim: 90, created: refNow.Add(-60 * day)},
		{name: "fresh", sim: 85, created: refNow.Add(-1 * day), access: 10},
	}
	got := ApplySmartRanking(items, DefaultWeights(), refNow)
	if got[0].name != "fresh" {
		t.Errorf("expected fresh first, got %s", got[0].name)
	}
	if got[0].score == 0 || got[1].score == 0 {
		t.Error("scores should be set")
	}
}
