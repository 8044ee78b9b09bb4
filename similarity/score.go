// Package similarity scores how alike two users are from their profiles and
// activity history.
package similarity

import "math"

// Cross-dimension weights. They sum to 1.
const (
	weightAcademic      = 0.25
	weightInterests     = 0.20
	weightActivities    = 0.15
	weightEntertainment = 0.15
	weightSports        = 0.10
	weightLocation      = 0.10
	weightSocial        = 0.05
)

// Intra-dimension weights. Each group sums to 1.
const (
	academicMajor    = 0.40
	academicSubjects = 0.35
	academicSkills   = 0.25

	interestsInterests = 0.60
	interestsHobbies   = 0.40

	entMovieGenres    = 0.15
	entMusicGenres    = 0.15
	entFavoriteMovies = 0.20
	entFavoriteShows  = 0.20
	entFavoriteBooks  = 0.15
	entFavoriteMusic  = 0.075
	entFavoriteGames  = 0.075
)

// Breakdown holds per-dimension similarity percentages. Social engagement
// takes part in Result.Overall but is never reported here.
type Breakdown struct {
	Academic      int `json:"academic"`
	Interests     int `json:"interests"`
	Activities    int `json:"activities"`
	Entertainment int `json:"entertainment"`
	Sports        int `json:"sports"`
	Location      int `json:"location"`
}

// Result is the full comparison of two users. Overall is not an average of
// Breakdown.
type Result struct {
	Overall       int           `json:"overall"`
	Breakdown     Breakdown     `json:"breakdown"`
	Commonalities Commonalities `json:"commonalities"`
}

type dimensions struct {
	academic      float64
	interests     float64
	activities    float64
	entertainment float64
	sports        float64
	location      float64
	// social is the divergence of activity counts, 0 when both are idle.
	social        float64
}

func compare(a, b Profile, actsA, actsB []ActivityRef) dimensions {
	fa, fb := ExtractFeatures(a), ExtractFeatures(b)
	return dimensions{
		academic: academicMajor*Jaccard(fa.Major, fb.Major) +
			academicSubjects*Jaccard(fa.Subjects, fb.Subjects) +
			academicSkills*Jaccard(fa.Skills, fb.Skills),
		interests: interestsInterests*Jaccard(fa.Interests, fb.Interests) +
			interestsHobbies*Jaccard(fa.Hobbies, fb.Hobbies),
		activities: Jaccard(activityKinds(actsA), activityKinds(actsB)),
		entertainment: entMovieGenres*Jaccard(fa.MovieGenres, fb.MovieGenres) +
			entMusicGenres*Jaccard(fa.MusicGenres, fb.MusicGenres) +
			entFavoriteMovies*Jaccard(fa.FavoriteMovies, fb.FavoriteMovies) +
			entFavoriteShows*Jaccard(fa.FavoriteShows, fb.FavoriteShows) +
			entFavoriteBooks*Jaccard(fa.FavoriteBooks, fb.FavoriteBooks) +
			entFavoriteMusic*Jaccard(fa.FavoriteMusic, fb.FavoriteMusic) +
			entFavoriteGames*Jaccard(fa.FavoriteGames, fb.FavoriteGames),
		sports:   Jaccard(fa.Sports, fb.Sports),
		location: Jaccard(fa.Location, fb.Location),
		social:   engagementGap(len(actsA), len(actsB)),
	}
}

// engagementGap is |a-b| relative to the mean count, capped at 1.
func engagementGap(a, b int) float64 {
	if a == 0 && b == 0 {
		return 0
	}
	avg := float64(a+b) / 2
	return math.Min(math.Abs(float64(a-b))/avg, 1)
}

func (d dimensions) overall() int {
	return percent(d.academic*weightAcademic +
		d.interests*weightInterests +
		d.activities*weightActivities +
		d.entertainment*weightEntertainment +
		d.sports*weightSports +
		d.location*weightLocation +
		(1-d.social)*weightSocial)
}

func (d dimensions) breakdown() Breakdown {
	return Breakdown{
		Academic:      percent(d.academic),
		Interests:     percent(d.interests),
		Activities:    percent(d.activities),
		Entertainment: percent(d.entertainment),
		Sports:        percent(d.sports),
		Location:      percent(d.location),
	}
}

func percent(x float64) int {
	return int(math.Round(x * 100))
}

// Score returns the 0..100 overall similarity of a and b.
func Score(a, b Profile, actsA, actsB []ActivityRef) int {
	return compare(a, b, actsA, actsB).overall()
}

// Detailed returns the overall score together with the per-dimension
// breakdown and the literal values both users share.
func Detailed(a, b Profile, actsA, actsB []ActivityRef) Result {
	d := compare(a, b, actsA, actsB)
	return Result{
		Overall:       d.overall(),
		Breakdown:     d.breakdown(),
		Commonalities: Common(a, b, actsA, actsB),
	}
}
