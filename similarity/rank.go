package similarity

import "sort"

const (
	// MinScore is the exclusive lower bound for a peer suggestion.
	MinScore = 10
	// DefaultLimit is the number of peer suggestions returned when the caller
	// does not ask for a specific count.
	DefaultLimit = 10
	// QuickCandidateCap bounds the pre-filtered candidate pool of the quick path.
	QuickCandidateCap = 50
	// QuickLimit is the number of friend suggestions on the quick path.
	QuickLimit = 5
)

// Rank keeps items scoring above threshold, sorts them by score descending
// and truncates to limit. Ties keep their input order. A limit <= 0 keeps
// everything.
func Rank[T any](items []T, score func(T) int, threshold, limit int) []T {
	kept := make([]T, 0, len(items))
	for _, it := range items {
		if score(it) > threshold {
			kept = append(kept, it)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return score(kept[i]) > score(kept[j])
	})
	if limit > 0 && len(kept) > limit {
		kept = kept[:limit]
	}
	return kept
}
