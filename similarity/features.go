package similarity

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Tags is a free-text tag list as stored on a profile. Decoding is lenient:
// anything that is not a JSON array reads as an empty list, non-string scalars
// are stringified, and nulls, nested objects and nested arrays are dropped
// without error.
type Tags []string

// UnmarshalJSON implements json.Unmarshaler.
func (t *Tags) UnmarshalJSON(data []byte) error {
	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil || raw == nil {
		*t = Tags{}
		return nil
	}
	out := make(Tags, 0, len(raw))
	for _, v := range raw {
		switch s := v.(type) {
		case string:
			out = append(out, s)
		case float64, bool:
			out = append(out, fmt.Sprint(s))
		default:
			// null, object, array
		}
	}
	*t = out
	return nil
}

// Scan implements sql.Scanner for JSONB columns.
func (t *Tags) Scan(src any) error {
	switch v := src.(type) {
	case []byte:
		return t.UnmarshalJSON(v)
	case string:
		return t.UnmarshalJSON([]byte(v))
	}
	*t = Tags{}
	return nil
}

// Value implements driver.Valuer. The list is sent as JSON text so drivers
// do not encode it as bytea; a nil list is stored as "[]".
func (t Tags) Value() (driver.Value, error) {
	if t == nil {
		return "[]", nil
	}
	data, err := json.Marshal([]string(t))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Profile is the subset of a user profile the engine consumes.
type Profile struct {
	Interests        Tags   `json:"interests"`
	Hobbies          Tags   `json:"hobbies"`
	Skills           Tags   `json:"skills"`
	FavoriteSubjects Tags   `json:"favoriteSubjects"`
	Sports           Tags   `json:"sports"`
	Major            string `json:"major"`
	Location         string `json:"location"`

	// Entertainment tags captured at signup.
	MusicGenres Tags `json:"musicGenres"`
	MovieGenres Tags `json:"movieGenres"`

	// Entertainment tags captured on the profile page; absent on older records.
	FavoriteMovies Tags `json:"favoriteMovies"`
	FavoriteShows  Tags `json:"favoriteShows"`
	FavoriteBooks  Tags `json:"favoriteBooks"`
	FavoriteMusic  Tags `json:"favoriteMusic"`
	FavoriteGames  Tags `json:"favoriteGames"`
}

// ActivityRef is the part of an activity that feeds the activities dimension.
type ActivityRef struct {
	Category string `json:"category,omitempty"`
	Type     string `json:"type,omitempty"`
}

// Kind returns the category, falling back to the type.
func (a ActivityRef) Kind() string {
	if a.Category != "" {
		return a.Category
	}
	return a.Type
}

// FeatureSet is a profile decomposed into named attribute lists. No field is
// ever nil.
type FeatureSet struct {
	Interests      []string
	Hobbies        []string
	Skills         []string
	Subjects       []string
	Sports         []string
	Major          []string
	Location       []string
	MusicGenres    []string
	MovieGenres    []string
	FavoriteMovies []string
	FavoriteShows  []string
	FavoriteBooks  []string
	FavoriteMusic  []string
	FavoriteGames  []string
}

// ExtractFeatures normalizes a profile into a FeatureSet. Major and location
// become zero- or one-element lists holding the raw value.
func ExtractFeatures(p Profile) FeatureSet {
	return FeatureSet{
		Interests:      list(p.Interests),
		Hobbies:        list(p.Hobbies),
		Skills:         list(p.Skills),
		Subjects:       list(p.FavoriteSubjects),
		Sports:         list(p.Sports),
		Major:          singleton(p.Major),
		Location:       singleton(p.Location),
		MusicGenres:    list(p.MusicGenres),
		MovieGenres:    list(p.MovieGenres),
		FavoriteMovies: list(p.FavoriteMovies),
		FavoriteShows:  list(p.FavoriteShows),
		FavoriteBooks:  list(p.FavoriteBooks),
		FavoriteMusic:  list(p.FavoriteMusic),
		FavoriteGames:  list(p.FavoriteGames),
	}
}

// activityKinds reduces an activity list to its kinds. Activities with
// neither a category nor a type carry no signal and are skipped.
func activityKinds(acts []ActivityRef) []string {
	kinds := make([]string, 0, len(acts))
	for _, a := range acts {
		if k := a.Kind(); k != "" {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

func list(t Tags) []string {
	if t == nil {
		return []string{}
	}
	return []string(t)
}

func singleton(s string) []string {
	if s == "" {
		return []string{}
	}
	return []string{s}
}
