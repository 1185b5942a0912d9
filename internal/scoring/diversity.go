package scoring

import "math"

// DefaultDiversityFactor is the MMR trade-off used by enhanced search.
const DefaultDiversityFactor = 0.3

const (
	sameFolderSimilarity = 0.8
	sameDateSimilarity   = 0.5
)

// DiversityKey is what the re-ranker needs to know about a result.
type DiversityKey struct {
	Relevance float64 // smart score, or similarity/100 when unscored
	Folder    string
	Date      string
}

// ApplyDiversity greedily re-orders items by Maximal Marginal Relevance.
//
// The top item is kept first; each next pick maximises
// relevance - factor*maxSim, where maxSim against the already selected
// items is 0.8 for a shared folder, 0.5 for a shared date, else 0.
// Lists of three or fewer items are returned unchanged.
func ApplyDiversity[T any](items []T, factor float64, key func(T) DiversityKey) []T {
	if len(items) <= 3 {
		return items
	}

	keys := make([]DiversityKey, len(items))
	for i, it := range items {
		keys[i] = key(it)
	}

	out := make([]T, 0, len(items))
	selected := make([]int, 0, len(items))
	remaining := make([]int, 0, len(items)-1)
	for i := 1; i < len(items); i++ {
		remaining = append(remaining, i)
	}
	selected = append(selected, 0)
	out = append(out, items[0])

	for len(remaining) > 0 {
		bestPos, bestScore := 0, math.Inf(-1)
		for pos, idx := range remaining {
			cand := keys[idx]
			maxSim := 0.0
			for _, s := range selected {
				sel := keys[s]
				if sel.Folder == cand.Folder {
					maxSim = math.Max(maxSim, sameFolderSimilarity)
				}
				if cand.Date != "" && sel.Date == cand.Date {
					maxSim = math.Max(maxSim, sameDateSimilarity)
				}
			}
			if score := cand.Relevance - factor*maxSim; score > bestScore {
				bestPos, bestScore = pos, score
			}
		}
		idx := remaining[bestPos]
		remaining = append(remaining[:bestPos], remaining[bestPos+1:]...)
		selected = append(selected, idx)
		out = append(out, items[idx])
	}
	return out
}
