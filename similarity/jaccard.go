package similarity

import (
	"strings"

	"gonum.org/v1/gonum/floats"
)

// normalize lowercases and trims every value and collapses duplicates.
func normalize(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[strings.ToLower(strings.TrimSpace(v))] = struct{}{}
	}
	return set
}

// Jaccard returns |A∩B| / |A∪B| over the case-insensitive, trimmed sets of
// a and b. Two empty inputs score 0: no data is not a match.
func Jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	setA, setB := normalize(a), normalize(b)
	if len(setA) > len(setB) {
		setA, setB = setB, setA
	}
	intersection := 0
	for v := range setA {
		if _, ok := setB[v]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// Cosine returns the cosine similarity of two equal-length vectors, clamped
// to [0,1]. Mismatched lengths and zero-norm vectors score 0.
func Cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	res := floats.Dot(a, b) / (na * nb)
	switch {
	case res < 0:
		return 0
	case res > 1:
		return 1
	}
	return res
}
