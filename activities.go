package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"gitea.kood.tech/petrkubec/peerconnect/similarity"
)

type activity struct {
	ID           int             `json:"id"`
	CreatorID    int             `json:"creatorId"`
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	Category     string          `json:"category"`
	Type         string          `json:"type"`
	Tags         similarity.Tags `json:"tags"`
	Location     string          `json:"location"`
	StartsAt     *time.Time      `json:"startsAt,omitempty"`
	Capacity     int             `json:"capacity"`
	CreatedAt    time.Time       `json:"createdAt"`
	Participants []int           `json:"participants,omitempty"`
}

const activityColumns = `a.id, a.creator_id, a.title, a.description, a.category, a.type,
	a.tags, a.location, a.starts_at, a.capacity, a.created_at`

func scanActivity(s rowScanner) (activity, error) {
	var a activity
	err := s.Scan(&a.ID, &a.CreatorID, &a.Title, &a.Description, &a.Category, &a.Type,
		&a.Tags, &a.Location, &a.StartsAt, &a.Capacity, &a.CreatedAt)
	return a, err
}

func queryActivities(ctx context.Context, db *sql.DB, query string, args ...any) ([]activity, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]activity, 0, 16)
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func loadActivity(ctx context.Context, db *sql.DB, id int) (activity, error) {
	a, err := scanActivity(db.QueryRowContext(ctx,
		`SELECT `+activityColumns+` FROM activities a WHERE a.id = $1`, id))
	if err == sql.ErrNoRows {
		return a, errActivityNotFound
	}
	if err != nil {
		return a, errors.Wrapf(err, "load activity %d", id)
	}

	rows, err := db.QueryContext(ctx,
		`SELECT user_id FROM activity_participants WHERE activity_id = $1 ORDER BY joined_at, user_id`, id)
	if err != nil {
		return a, errors.Wrapf(err, "load participants of %d", id)
	}
	defer rows.Close()
	a.Participants = []int{}
	for rows.Next() {
		var uid int
		if err := rows.Scan(&uid); err != nil {
			return a, err
		}
		a.Participants = append(a.Participants, uid)
	}
	return a, rows.Err()
}

// loadOpenActivities returns upcoming (or undated) activities userID
// neither created nor joined.
func loadOpenActivities(ctx context.Context, db *sql.DB, userID int) ([]activity, error) {
	acts, err := queryActivities(ctx, db, `
		SELECT `+activityColumns+`
		FROM activities a
		WHERE a.creator_id <> $1
		  AND (a.starts_at IS NULL OR a.starts_at > NOW())
		  AND NOT EXISTS (
			SELECT 1 FROM activity_participants ap
			WHERE ap.activity_id = a.id AND ap.user_id = $1
		  )
		ORDER BY a.id
	`, userID)
	return acts, errors.Wrap(err, "load open activities")
}

// activityMemberIDs lists the creator and every participant.
func activityMemberIDs(ctx context.Context, db *sql.DB, activityID int) ([]int, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT creator_id FROM activities WHERE id = $1
		UNION
		SELECT user_id FROM activity_participants WHERE activity_id = $1
	`, activityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func isActivityMember(ctx context.Context, db *sql.DB, activityID, userID int) (bool, error) {
	var member bool
	err := db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM activities WHERE id = $1 AND creator_id = $2)
		    OR EXISTS (SELECT 1 FROM activity_participants WHERE activity_id = $1 AND user_id = $2)
	`, activityID, userID).Scan(&member)
	return member, err
}

type activityInput struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Type        string          `json:"type"`
	Tags        similarity.Tags `json:"tags"`
	Location    string          `json:"location"`
	StartsAt    *time.Time      `json:"startsAt"`
	Capacity    int             `json:"capacity"`
}

// POST /activities
func createActivityHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		var in activityInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json")
			return
		}
		in.Title = strings.TrimSpace(in.Title)
		in.Category = strings.TrimSpace(in.Category)
		in.Type = strings.TrimSpace(in.Type)
		if in.Title == "" {
			writeError(w, http.StatusBadRequest, "missing_fields")
			return
		}
		if in.Category == "" && in.Type == "" {
			writeError(w, http.StatusBadRequest, "missing_category")
			return
		}
		if in.Capacity < 0 {
			writeError(w, http.StatusBadRequest, "invalid_capacity")
			return
		}

		me := currentUserID(r)
		a := activity{
			CreatorID:   me,
			Title:       in.Title,
			Description: strings.TrimSpace(in.Description),
			Category:    in.Category,
			Type:        in.Type,
			Tags:        cleanTags(in.Tags),
			Location:    strings.TrimSpace(in.Location),
			StartsAt:    in.StartsAt,
			Capacity:    in.Capacity,
		}
		err := db.QueryRowContext(r.Context(), `
			INSERT INTO activities (creator_id, title, description, category, type, tags, location, starts_at, capacity)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING id, created_at
		`, a.CreatorID, a.Title, a.Description, a.Category, a.Type, a.Tags, a.Location, a.StartsAt, a.Capacity,
		).Scan(&a.ID, &a.CreatedAt)
		if err != nil {
			logger.Error("Create activity", zap.Int("user_id", me), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}

		recCache.Invalidate(r.Context(), me)
		writeJSON(w, http.StatusCreated, a)
	})
}

// GET /activities?category=sports
func listActivitiesHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		category := strings.TrimSpace(r.URL.Query().Get("category"))
		acts, err := queryActivities(r.Context(), db, `
			SELECT `+activityColumns+`
			FROM activities a
			WHERE ($1::text = '' OR a.category = $1)
			ORDER BY a.starts_at NULLS LAST, a.id
			LIMIT 100
		`, category)
		if err != nil {
			logger.Error("List activities", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		writeJSON(w, http.StatusOK, acts)
	})
}

// GET /activities/{id}
func getActivityHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r, "id")
		if !ok {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		a, err := loadActivity(r.Context(), db, id)
		if errors.Is(err, errActivityNotFound) {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		if err != nil {
			logger.Error("Load activity", zap.Int("activity_id", id), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		writeJSON(w, http.StatusOK, a)
	})
}

// DELETE /activities/{id}, creator only.
func deleteActivityHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r, "id")
		if !ok {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		me := currentUserID(r)

		members, err := activityMemberIDs(r.Context(), db, id)
		if err != nil {
			logger.Error("Load activity members", zap.Int("activity_id", id), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}

		var creatorID int
		err = db.QueryRowContext(r.Context(),
			`DELETE FROM activities WHERE id = $1 AND creator_id = $2 RETURNING creator_id`, id, me,
		).Scan(&creatorID)
		if err == sql.ErrNoRows {
			if len(members) == 0 {
				writeError(w, http.StatusNotFound, "not_found")
			} else {
				writeError(w, http.StatusForbidden, "forbidden")
			}
			return
		}
		if err != nil {
			logger.Error("Delete activity", zap.Int("activity_id", id), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}

		recCache.Invalidate(r.Context(), members...)
		w.WriteHeader(http.StatusNoContent)
	})
}

// POST /activities/{id}/join
func joinActivityHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r, "id")
		if !ok {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		me := currentUserID(r)

		status := ""
		err := withTx(r.Context(), db, func(tx *sql.Tx) error {
			var creatorID, capacity int
			err := tx.QueryRowContext(r.Context(),
				`SELECT creator_id, capacity FROM activities WHERE id = $1 FOR UPDATE`, id,
			).Scan(&creatorID, &capacity)
			if err == sql.ErrNoRows {
				return errActivityNotFound
			}
			if err != nil {
				return err
			}
			if creatorID == me {
				status = "joined"
				return nil
			}

			var joined bool
			var count int
			if err := tx.QueryRowContext(r.Context(), `
				SELECT COALESCE(BOOL_OR(user_id = $2), FALSE), COUNT(*)
				FROM activity_participants WHERE activity_id = $1
			`, id, me).Scan(&joined, &count); err != nil {
				return err
			}
			if joined {
				status = "joined"
				return nil
			}
			if capacity > 0 && count >= capacity {
				status = "full"
				return nil
			}
			if _, err := tx.ExecContext(r.Context(),
				`INSERT INTO activity_participants (activity_id, user_id) VALUES ($1, $2)`, id, me); err != nil {
				return err
			}
			status = "joined"
			return nil
		})
		if errors.Is(err, errActivityNotFound) {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		if err != nil {
			logger.Error("Join activity", zap.Int("activity_id", id), zap.Int("user_id", me), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		if status == "full" {
			writeError(w, http.StatusConflict, "activity_full")
			return
		}

		recCache.Invalidate(r.Context(), me)
		writeJSON(w, http.StatusOK, map[string]string{"state": status})
	})
}

// POST /activities/{id}/leave
func leaveActivityHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r, "id")
		if !ok {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		me := currentUserID(r)

		res, err := db.ExecContext(r.Context(),
			`DELETE FROM activity_participants WHERE activity_id = $1 AND user_id = $2`, id, me)
		if err != nil {
			logger.Error("Leave activity", zap.Int("activity_id", id), zap.Int("user_id", me), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		if n, _ := res.RowsAffected(); n == 0 {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}

		recCache.Invalidate(r.Context(), me)
		writeJSON(w, http.StatusOK, map[string]string{"state": "left"})
	})
}
