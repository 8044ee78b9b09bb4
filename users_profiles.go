package main

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"gitea.kood.tech/petrkubec/peerconnect/similarity"
)

// profileView is the full profile as returned to its owner and to peers.
type profileView struct {
	ID             int     `json:"id"`
	Username       string  `json:"username"`
	Bio            string  `json:"bio"`
	ProfilePicture *string `json:"profilePicture"`
	similarity.Profile
}

func viewOf(u *userRecord) profileView {
	p := u.Profile
	for _, t := range []*similarity.Tags{
		&p.Interests, &p.Hobbies, &p.Skills, &p.FavoriteSubjects, &p.Sports,
		&p.MusicGenres, &p.MovieGenres, &p.FavoriteMovies, &p.FavoriteShows,
		&p.FavoriteBooks, &p.FavoriteMusic, &p.FavoriteGames,
	} {
		*t = nonNil(*t)
	}
	return profileView{ID: u.ID, Username: u.Username, Bio: u.Bio, ProfilePicture: u.ProfilePicture, Profile: p}
}

// profileUpdate is a partial PUT body; absent fields keep their value.
type profileUpdate struct {
	Bio              *string          `json:"bio"`
	Major            *string          `json:"major"`
	Location         *string          `json:"location"`
	Interests        *similarity.Tags `json:"interests"`
	Hobbies          *similarity.Tags `json:"hobbies"`
	Skills           *similarity.Tags `json:"skills"`
	FavoriteSubjects *similarity.Tags `json:"favoriteSubjects"`
	Sports           *similarity.Tags `json:"sports"`
	MusicGenres      *similarity.Tags `json:"musicGenres"`
	MovieGenres      *similarity.Tags `json:"movieGenres"`
	FavoriteMovies   *similarity.Tags `json:"favoriteMovies"`
	FavoriteShows    *similarity.Tags `json:"favoriteShows"`
	FavoriteBooks    *similarity.Tags `json:"favoriteBooks"`
	FavoriteMusic    *similarity.Tags `json:"favoriteMusic"`
	FavoriteGames    *similarity.Tags `json:"favoriteGames"`
}

func (u profileUpdate) apply(bio *string, p *similarity.Profile) {
	setText := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	setText(bio, u.Bio)
	setText(&p.Major, u.Major)
	setText(&p.Location, u.Location)

	for _, f := range []struct {
		dst *similarity.Tags
		src *similarity.Tags
	}{
		{&p.Interests, u.Interests}, {&p.Hobbies, u.Hobbies}, {&p.Skills, u.Skills},
		{&p.FavoriteSubjects, u.FavoriteSubjects}, {&p.Sports, u.Sports},
		{&p.MusicGenres, u.MusicGenres}, {&p.MovieGenres, u.MovieGenres},
		{&p.FavoriteMovies, u.FavoriteMovies}, {&p.FavoriteShows, u.FavoriteShows},
		{&p.FavoriteBooks, u.FavoriteBooks}, {&p.FavoriteMusic, u.FavoriteMusic},
		{&p.FavoriteGames, u.FavoriteGames},
	} {
		if f.src != nil {
			*f.dst = cleanTags(*f.src)
		}
	}
}

// GET /me
func meHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		userID := currentUserID(r)
		var email, username string
		err := db.QueryRowContext(r.Context(),
			`SELECT email, username FROM users WHERE id = $1`, userID,
		).Scan(&email, &username)
		if err != nil {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"id":       userID,
			"email":    email,
			"username": username,
		})
	})
}

// GET /me/profile
func meProfileHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		u, err := loadUser(r.Context(), db, currentUserID(r))
		if errors.Is(err, errUserNotFound) {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		if err != nil {
			logger.Error("Load profile", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		writeJSON(w, http.StatusOK, viewOf(u))
	})
}

// PUT /me/profile
func updateProfileHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		var upd profileUpdate
		if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json")
			return
		}

		me := currentUserID(r)
		u, err := loadUser(r.Context(), db, me)
		if errors.Is(err, errUserNotFound) {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		if err != nil {
			logger.Error("Load profile", zap.Int("user_id", me), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}

		upd.apply(&u.Bio, &u.Profile)
		if err := saveProfile(r.Context(), db, me, u.Bio, u.Profile); err != nil {
			logger.Error("Save profile", zap.Int("user_id", me), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}

		recCache.Invalidate(r.Context(), me)
		writeJSON(w, http.StatusOK, viewOf(u))
	})
}

// GET /users/{id}
func userHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := pathID(r, "id")
		if !ok {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}

		u, err := loadUser(r.Context(), db, userID)
		if errors.Is(err, errUserNotFound) {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		if err != nil {
			logger.Error("Load user", zap.Int("user_id", userID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}

		writeJSON(w, http.StatusOK, struct {
			profileView
			IsOnline bool `json:"isOnline"`
		}{viewOf(u), isOnlineNow(r.Context(), userID)})
	})
}
