package main

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"gitea.kood.tech/petrkubec/peerconnect/similarity"
)

var (
	errUserNotFound     = errors.New("user not found")
	errActivityNotFound = errors.New("activity not found")
	errNotFriends       = errors.New("users are not friends")
	errNotMember        = errors.New("not an activity member")
)

// userRecord is a user row joined with its (possibly missing) profile.
type userRecord struct {
	ID             int
	Username       string
	ProfilePicture *string
	Bio            string
	Profile        similarity.Profile
}

// peerCard is the public projection of a user embedded in recommendation
// and friend responses.
type peerCard struct {
	ID             int             `json:"id"`
	Username       string          `json:"username"`
	ProfilePicture *string         `json:"profilePicture"`
	Bio            string          `json:"bio"`
	Major          string          `json:"major"`
	Location       string          `json:"location"`
	Interests      similarity.Tags `json:"interests"`
	Hobbies        similarity.Tags `json:"hobbies"`
	Skills         similarity.Tags `json:"skills"`
}

func (u *userRecord) card() peerCard {
	return peerCard{
		ID:             u.ID,
		Username:       u.Username,
		ProfilePicture: u.ProfilePicture,
		Bio:            u.Bio,
		Major:          u.Profile.Major,
		Location:       u.Profile.Location,
		Interests:      nonNil(u.Profile.Interests),
		Hobbies:        nonNil(u.Profile.Hobbies),
		Skills:         nonNil(u.Profile.Skills),
	}
}

func nonNil(t similarity.Tags) similarity.Tags {
	if t == nil {
		return similarity.Tags{}
	}
	return t
}

// userColumns selects the fields scanUser expects, from users u LEFT JOIN
// profiles p. Users without a profile row read as empty profiles.
const userColumns = `u.id, u.username, p.profile_picture,
	COALESCE(p.bio, ''), COALESCE(p.major, ''), COALESCE(p.location, ''),
	p.interests, p.hobbies, p.skills, p.favorite_subjects, p.sports,
	p.music_genres, p.movie_genres, p.favorite_movies, p.favorite_shows,
	p.favorite_books, p.favorite_music, p.favorite_games`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(s rowScanner) (*userRecord, error) {
	var u userRecord
	p := &u.Profile
	err := s.Scan(
		&u.ID, &u.Username, &u.ProfilePicture,
		&u.Bio, &p.Major, &p.Location,
		&p.Interests, &p.Hobbies, &p.Skills, &p.FavoriteSubjects, &p.Sports,
		&p.MusicGenres, &p.MovieGenres, &p.FavoriteMovies, &p.FavoriteShows,
		&p.FavoriteBooks, &p.FavoriteMusic, &p.FavoriteGames,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func queryUsers(ctx context.Context, db *sql.DB, query string, args ...any) ([]*userRecord, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]*userRecord, 0, 32)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// loadUser fetches one user with profile, or errUserNotFound.
func loadUser(ctx context.Context, db *sql.DB, id int) (*userRecord, error) {
	u, err := scanUser(db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users u
		LEFT JOIN profiles p ON p.user_id = u.id
		WHERE u.id = $1
	`, id))
	if err == sql.ErrNoRows {
		return nil, errUserNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load user %d", id)
	}
	return u, nil
}

// loadUsers fetches users by id, keyed by id. Missing ids are absent.
func loadUsers(ctx context.Context, db *sql.DB, ids []int) (map[int]*userRecord, error) {
	users, err := queryUsers(ctx, db, `
		SELECT `+userColumns+`
		FROM users u
		LEFT JOIN profiles p ON p.user_id = u.id
		WHERE u.id = ANY($1)
	`, int64Array(ids))
	if err != nil {
		return nil, errors.Wrap(err, "load users")
	}
	out := make(map[int]*userRecord, len(users))
	for _, u := range users {
		out[u.ID] = u
	}
	return out, nil
}

func userExists(ctx context.Context, db *sql.DB, id int) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

// loadActivitiesForUsers returns, per user, the activities they created or
// joined. An activity counted both ways appears once.
func loadActivitiesForUsers(ctx context.Context, db *sql.DB, ids []int) (map[int][]similarity.ActivityRef, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT m.user_id, a.category, a.type
		FROM activities a
		JOIN (
			SELECT id AS activity_id, creator_id AS user_id FROM activities WHERE creator_id = ANY($1)
			UNION
			SELECT activity_id, user_id FROM activity_participants WHERE user_id = ANY($1)
		) m ON m.activity_id = a.id
		ORDER BY m.user_id, a.id
	`, int64Array(ids))
	if err != nil {
		return nil, errors.Wrap(err, "load activities")
	}
	defer rows.Close()

	out := make(map[int][]similarity.ActivityRef, len(ids))
	for rows.Next() {
		var userID int
		var ref similarity.ActivityRef
		if err := rows.Scan(&userID, &ref.Category, &ref.Type); err != nil {
			return nil, errors.Wrap(err, "scan activity")
		}
		out[userID] = append(out[userID], ref)
	}
	return out, rows.Err()
}

// loadExclusionSet returns the ids never recommended to userID: the user
// themself, anyone with a pending or accepted friendship, and dismissed users.
func loadExclusionSet(ctx context.Context, db *sql.DB, userID int) ([]int, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT CASE WHEN requester_id = $1 THEN addressee_id ELSE requester_id END
		FROM friendships
		WHERE (requester_id = $1 OR addressee_id = $1) AND status IN ('pending', 'accepted')
		UNION
		SELECT dismissed_user_id FROM dismissed_recommendations WHERE user_id = $1
	`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "load exclusions")
	}
	defer rows.Close()

	ids := []int{userID}
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan exclusion")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// loadCandidates returns every user not in excluded, ordered by id.
func loadCandidates(ctx context.Context, db *sql.DB, excluded []int) ([]*userRecord, error) {
	users, err := queryUsers(ctx, db, `
		SELECT `+userColumns+`
		FROM users u
		LEFT JOIN profiles p ON p.user_id = u.id
		WHERE NOT (u.id = ANY($1))
		ORDER BY u.id
	`, int64Array(excluded))
	return users, errors.Wrap(err, "load candidates")
}

// loadQuickCandidates narrows the pool in SQL to users sharing at least one
// exact value with self in a preference array, or the same major.
func loadQuickCandidates(ctx context.Context, db *sql.DB, self *userRecord, excluded []int, limit int) ([]*userRecord, error) {
	p := self.Profile
	users, err := queryUsers(ctx, db, `
		SELECT `+userColumns+`
		FROM users u
		JOIN profiles p ON p.user_id = u.id
		WHERE NOT (u.id = ANY($1))
		  AND (
			p.hobbies ?| $2 OR p.sports ?| $3 OR p.favorite_subjects ?| $4
			OR p.music_genres ?| $5 OR p.movie_genres ?| $6 OR p.interests ?| $7
			OR ($8::text <> '' AND p.major = $8)
		  )
		ORDER BY u.id
		LIMIT $9
	`, int64Array(excluded),
		pq.StringArray(nonNil(p.Hobbies)), pq.StringArray(nonNil(p.Sports)),
		pq.StringArray(nonNil(p.FavoriteSubjects)), pq.StringArray(nonNil(p.MusicGenres)),
		pq.StringArray(nonNil(p.MovieGenres)), pq.StringArray(nonNil(p.Interests)),
		p.Major, limit)
	return users, errors.Wrap(err, "load quick candidates")
}

// saveProfile upserts the profile row of userID.
func saveProfile(ctx context.Context, db *sql.DB, userID int, bio string, p similarity.Profile) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO profiles (
			user_id, bio, major, location, interests, hobbies, skills, favorite_subjects, sports,
			music_genres, movie_genres, favorite_movies, favorite_shows, favorite_books,
			favorite_music, favorite_games, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			bio = EXCLUDED.bio, major = EXCLUDED.major, location = EXCLUDED.location,
			interests = EXCLUDED.interests, hobbies = EXCLUDED.hobbies, skills = EXCLUDED.skills,
			favorite_subjects = EXCLUDED.favorite_subjects, sports = EXCLUDED.sports,
			music_genres = EXCLUDED.music_genres, movie_genres = EXCLUDED.movie_genres,
			favorite_movies = EXCLUDED.favorite_movies, favorite_shows = EXCLUDED.favorite_shows,
			favorite_books = EXCLUDED.favorite_books, favorite_music = EXCLUDED.favorite_music,
			favorite_games = EXCLUDED.favorite_games, updated_at = NOW()
	`, userID, bio, p.Major, p.Location, p.Interests, p.Hobbies, p.Skills, p.FavoriteSubjects, p.Sports,
		p.MusicGenres, p.MovieGenres, p.FavoriteMovies, p.FavoriteShows, p.FavoriteBooks,
		p.FavoriteMusic, p.FavoriteGames)
	return errors.Wrapf(err, "save profile %d", userID)
}

func int64Array(ids []int) pq.Int64Array {
	out := make(pq.Int64Array, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}
