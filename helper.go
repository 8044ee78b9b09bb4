package main

import (
	"math"
	"strings"

	"gitea.kood.tech/petrkubec/peerconnect/similarity"
)

// activitySuggestion is one entry of GET /recommendations/activities.
type activitySuggestion struct {
	Activity activity `json:"activity"`
	Score    int      `json:"score"`
}

// interestTerms is the vocabulary an activity is matched against.
func interestTerms(p similarity.Profile) []string {
	terms := make([]string, 0, len(p.Interests)+len(p.Hobbies)+len(p.Sports)+len(p.Skills))
	terms = append(terms, p.Interests...)
	terms = append(terms, p.Hobbies...)
	terms = append(terms, p.Sports...)
	terms = append(terms, p.Skills...)
	return terms
}

func activityTerms(a activity) []string {
	terms := make([]string, 0, len(a.Tags)+2)
	for _, s := range []string{a.Category, a.Type} {
		if s != "" {
			terms = append(terms, s)
		}
	}
	return append(terms, a.Tags...)
}

// activityRelevance scores 0-100 how well an activity's category, type and
// tags match the profile's interests, hobbies, sports and skills.
func activityRelevance(p similarity.Profile, a activity) int {
	return int(math.Round(similarity.Jaccard(interestTerms(p), activityTerms(a)) * 100))
}

// rankActivities keeps the best limit activities with a positive relevance.
func rankActivities(p similarity.Profile, open []activity, limit int) []activitySuggestion {
	scored := make([]activitySuggestion, len(open))
	for i, a := range open {
		scored[i] = activitySuggestion{Activity: a, Score: activityRelevance(p, a)}
	}
	return similarity.Rank(scored, func(s activitySuggestion) int { return s.Score }, 0, limit)
}

// cleanTags trims entries and drops blanks and exact duplicates.
func cleanTags(t similarity.Tags) similarity.Tags {
	out := make(similarity.Tags, 0, len(t))
	seen := make(map[string]struct{}, len(t))
	for _, s := range t {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
