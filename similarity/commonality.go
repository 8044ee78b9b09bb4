package similarity

// Commonalities lists values present in both users' raw profiles.
type Commonalities struct {
	Interests  []string `json:"interests"`
	Subjects   []string `json:"subjects"`
	Activities []string `json:"activities"`
}

// Common extracts shared interests, subjects and activity kinds for display.
//
// Matching is exact and case-sensitive, unlike Jaccard: "Music" and "music"
// count as the same interest for scoring but are not listed here.
func Common(a, b Profile, actsA, actsB []ActivityRef) Commonalities {
	return Commonalities{
		Interests:  sharedLiteral(a.Interests, b.Interests),
		Subjects:   sharedLiteral(a.FavoriteSubjects, b.FavoriteSubjects),
		Activities: sharedLiteral(activityKinds(actsA), activityKinds(actsB)),
	}
}

// sharedLiteral returns the distinct values of a∪b that occur verbatim in both
// a and b, in order of first appearance.
func sharedLiteral(a, b []string) []string {
	inA := make(map[string]struct{}, len(a))
	for _, v := range a {
		inA[v] = struct{}{}
	}
	inB := make(map[string]struct{}, len(b))
	for _, v := range b {
		inB[v] = struct{}{}
	}

	out := []string{}
	seen := make(map[string]struct{}, len(a)+len(b))
	for _, v := range append(append([]string{}, a...), b...) {
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		_, okA := inA[v]
		_, okB := inB[v]
		if okA && okB {
			out = append(out, v)
		}
	}
	return out
}
