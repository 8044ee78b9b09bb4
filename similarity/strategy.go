package similarity

// Subject is one side of a comparison: a profile plus every activity the user
// created or joined.
type Subject struct {
	Profile    Profile
	Activities []ActivityRef
}

// Strategy scores a pair of users on a 0..100 scale.
type Strategy interface {
	Name() string
	Score(a, b Subject) int
}

// DetailedStrategy is the seven-dimension weighted score used for peer
// suggestions.
type DetailedStrategy struct{}

func (DetailedStrategy) Name() string { return "detailed" }

func (DetailedStrategy) Score(a, b Subject) int {
	return Score(a.Profile, b.Profile, a.Activities, b.Activities)
}

// Preference-overlap weights used by QuickOverlapStrategy.
const (
	quickHobbies     = 2.0
	quickSports      = 1.5
	quickSubjects    = 1.5
	quickMusicGenres = 1.0
	quickMovieGenres = 1.0
	quickInterests   = 1.0
	quickMajor       = 0.75
)

// QuickOverlapStrategy is the cheaper preference-overlap score used for
// friend suggestions. Only fields filled in by both users count, and the
// result is normalized by the weight of those fields.
type QuickOverlapStrategy struct{}

func (QuickOverlapStrategy) Name() string { return "quick" }

func (QuickOverlapStrategy) Score(a, b Subject) int {
	fa, fb := ExtractFeatures(a.Profile), ExtractFeatures(b.Profile)
	fields := []struct {
		weight float64
		a, b   []string
	}{
		{quickHobbies, fa.Hobbies, fb.Hobbies},
		{quickSports, fa.Sports, fb.Sports},
		{quickSubjects, fa.Subjects, fb.Subjects},
		{quickMusicGenres, fa.MusicGenres, fb.MusicGenres},
		{quickMovieGenres, fa.MovieGenres, fb.MovieGenres},
		{quickInterests, fa.Interests, fb.Interests},
		{quickMajor, fa.Major, fb.Major},
	}

	var total, applicable float64
	for _, f := range fields {
		if len(f.a) == 0 || len(f.b) == 0 {
			continue
		}
		applicable += f.weight
		total += f.weight * Jaccard(f.a, f.b)
	}
	if applicable == 0 {
		return 0
	}
	return percent(total / applicable)
}

// StrategyByName resolves "detailed" or "quick".
func StrategyByName(name string) (Strategy, bool) {
	switch name {
	case "detailed":
		return DetailedStrategy{}, true
	case "quick":
		return QuickOverlapStrategy{}, true
	}
	return nil, false
}
