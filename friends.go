package main

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Friendship states
//
// request: create pending (or auto-accept if the opposite request is pending).
// accept: pending → accepted, by the addressee.
// decline: pending → declined, by the addressee.
// cancel: pending → cancelled, by the requester.
// remove: accepted → removed, by either party.
//
// declined, cancelled and removed are terminal until someone requests again,
// which reuses the pair's row.
const (
	statusPending   = "pending"
	statusAccepted  = "accepted"
	statusDeclined  = "declined"
	statusCancelled = "cancelled"
	statusRemoved   = "removed"
)

// FriendshipRow is the single row kept per user pair.
type FriendshipRow struct {
	ID          int
	RequesterID int
	AddresseeID int
	Status      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type friendshipResponse struct {
	State        string `json:"state"`
	FriendshipID *int   `json:"friendship_id,omitempty"`
}

// loadPairForUpdate returns the friendship row between two users (in EITHER
// direction) and takes a row lock (`FOR UPDATE`) so no other concurrent
// request can modify it until our transaction finishes.
// Returns (nil, nil) if no row exists yet.
func loadPairForUpdate(ctx context.Context, tx *sql.Tx, a, b int) (*FriendshipRow, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id, requester_id, addressee_id, status, created_at, updated_at
		FROM friendships
		WHERE (requester_id = $1 AND addressee_id = $2)
		   OR (requester_id = $2 AND addressee_id = $1)
		ORDER BY updated_at DESC, id DESC
		LIMIT 1
		FOR UPDATE
	`, a, b)

	var f FriendshipRow
	if err := row.Scan(&f.ID, &f.RequesterID, &f.AddresseeID, &f.Status, &f.CreatedAt, &f.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &f, nil
}

func setFriendshipStatus(ctx context.Context, tx *sql.Tx, id int, status string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE friendships SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	return err
}

// areFriends reports whether a and b have an accepted friendship.
func areFriends(ctx context.Context, db *sql.DB, a, b int) (bool, error) {
	var ok bool
	err := db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM friendships
			WHERE status = 'accepted'
			  AND ((requester_id = $1 AND addressee_id = $2) OR (requester_id = $2 AND addressee_id = $1))
		)`, a, b).Scan(&ok)
	return ok, err
}

func queryIDs(ctx context.Context, db *sql.DB, query string, args ...any) ([]int, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []int{}
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GET /friends
func friendsHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		me := currentUserID(r)
		friends, err := queryIDs(r.Context(), db, `
			SELECT CASE WHEN requester_id = $1 THEN addressee_id ELSE requester_id END
			FROM friendships
			WHERE (requester_id = $1 OR addressee_id = $1) AND status = 'accepted'
			ORDER BY updated_at DESC, id DESC
		`, me)
		if err != nil {
			logger.Error("List friends", zap.Int("user_id", me), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		writeJSON(w, http.StatusOK, map[string][]int{"friends": friends})
	})
}

// GET /friends/requests lists users with a pending request to the caller.
func friendRequestsHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		me := currentUserID(r)
		requests, err := queryIDs(r.Context(), db, `
			SELECT requester_id
			FROM friendships
			WHERE addressee_id = $1 AND status = 'pending'
			ORDER BY created_at DESC, id DESC
		`, me)
		if err != nil {
			logger.Error("List friend requests", zap.Int("user_id", me), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		writeJSON(w, http.StatusOK, map[string][]int{"requests": requests})
	})
}

// transitionFunc decides the next state for an existing (or missing) row.
// It returns the response to send, or an HTTP status and error code.
type transitionFunc func(ctx context.Context, tx *sql.Tx, row *FriendshipRow, me, target int) (resp friendshipResponse, status int, code string, err error)

// friendshipAction wraps the shared plumbing around a transition: path
// parsing, target validation, the locked transaction, cache invalidation.
func friendshipAction(db *sql.DB, name string, transition transitionFunc) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		targetID, ok := pathID(r, "id")
		if !ok {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		me := currentUserID(r)
		if targetID == me {
			writeError(w, http.StatusBadRequest, "invalid_target")
			return
		}
		exists, err := userExists(r.Context(), db, targetID)
		if err != nil || !exists {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}

		var resp friendshipResponse
		var status int
		var code string
		// A concurrent first request for the same pair loses the insert race
		// with a unique violation; the retry sees the winner's row.
		for attempt := 0; attempt < 2; attempt++ {
			err = withTx(r.Context(), db, func(tx *sql.Tx) error {
				row, err := loadPairForUpdate(r.Context(), tx, me, targetID)
				if err != nil {
					return err
				}
				resp, status, code, err = transition(r.Context(), tx, row, me, targetID)
				return err
			})
			if !isUniqueViolation(err) {
				break
			}
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			logger.Error("Friendship transition", zap.String("action", name),
				zap.Int("user_id", me), zap.Int("target_id", targetID), zap.Error(err))
			return
		}
		if code != "" {
			writeError(w, status, code)
			return
		}

		recCache.Invalidate(r.Context(), me, targetID)
		writeJSON(w, http.StatusOK, resp)
	})
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func accepted(row *FriendshipRow) (friendshipResponse, int, string, error) {
	return friendshipResponse{State: statusAccepted, FriendshipID: &row.ID}, 0, "", nil
}

func fail(status int, code string) (friendshipResponse, int, string, error) {
	return friendshipResponse{}, status, code, nil
}

// POST /friends/{id}/request
// Creates a pending request from the caller to {id}. If {id} already asked
// the caller, the request is accepted instead.
func requestFriendHandler(db *sql.DB) http.HandlerFunc {
	return friendshipAction(db, "request", func(ctx context.Context, tx *sql.Tx, row *FriendshipRow, me, target int) (friendshipResponse, int, string, error) {
		if row == nil {
			var id int
			if err := tx.QueryRowContext(ctx, `
				INSERT INTO friendships (requester_id, addressee_id, status)
				VALUES ($1, $2, 'pending')
				RETURNING id
			`, me, target).Scan(&id); err != nil {
				return friendshipResponse{}, 0, "", err
			}
			return friendshipResponse{State: statusPending, FriendshipID: &id}, 0, "", nil
		}

		switch row.Status {
		case statusPending:
			if row.RequesterID == target {
				// Mutual request
				if err := setFriendshipStatus(ctx, tx, row.ID, statusAccepted); err != nil {
					return friendshipResponse{}, 0, "", err
				}
				return accepted(row)
			}
			return friendshipResponse{State: statusPending, FriendshipID: &row.ID}, 0, "", nil
		case statusAccepted:
			return accepted(row)
		default:
			// Terminal state: start over with the caller as requester
			if _, err := tx.ExecContext(ctx, `
				UPDATE friendships
				SET requester_id = $2, addressee_id = $3, status = 'pending', updated_at = NOW()
				WHERE id = $1
			`, row.ID, me, target); err != nil {
				return friendshipResponse{}, 0, "", err
			}
			return friendshipResponse{State: statusPending, FriendshipID: &row.ID}, 0, "", nil
		}
	})
}

// POST /friends/{id}/accept
// Accepts a pending request {id} → caller. Accepting twice is a no-op.
func acceptFriendHandler(db *sql.DB) http.HandlerFunc {
	return friendshipAction(db, "accept", func(ctx context.Context, tx *sql.Tx, row *FriendshipRow, me, target int) (friendshipResponse, int, string, error) {
		if row == nil {
			return fail(http.StatusNotFound, "not_found")
		}
		switch row.Status {
		case statusPending:
			if row.AddresseeID != me {
				// The caller's own request: nothing to accept
				return fail(http.StatusNotFound, "not_found")
			}
			if err := setFriendshipStatus(ctx, tx, row.ID, statusAccepted); err != nil {
				return friendshipResponse{}, 0, "", err
			}
			return accepted(row)
		case statusAccepted:
			return accepted(row)
		default:
			return fail(http.StatusConflict, "invalid_state")
		}
	})
}

// POST /friends/{id}/decline
// Declines a pending request {id} → caller.
func declineFriendHandler(db *sql.DB) http.HandlerFunc {
	return pendingTransition(db, "decline", statusDeclined, func(row *FriendshipRow, me int) bool {
		return row.AddresseeID == me
	})
}

// POST /friends/{id}/cancel
// Withdraws the caller's own pending request to {id}.
func cancelFriendHandler(db *sql.DB) http.HandlerFunc {
	return pendingTransition(db, "cancel", statusCancelled, func(row *FriendshipRow, me int) bool {
		return row.RequesterID == me
	})
}

// pendingTransition moves a pending row to a terminal state when actor
// allows it. Repeating the same transition is a no-op.
func pendingTransition(db *sql.DB, name, to string, actor func(row *FriendshipRow, me int) bool) http.HandlerFunc {
	return friendshipAction(db, name, func(ctx context.Context, tx *sql.Tx, row *FriendshipRow, me, target int) (friendshipResponse, int, string, error) {
		if row == nil {
			return fail(http.StatusNotFound, "not_found")
		}
		switch row.Status {
		case statusPending:
			if !actor(row, me) {
				return fail(http.StatusNotFound, "not_found")
			}
			if err := setFriendshipStatus(ctx, tx, row.ID, to); err != nil {
				return friendshipResponse{}, 0, "", err
			}
			return friendshipResponse{State: to, FriendshipID: &row.ID}, 0, "", nil
		case to:
			return friendshipResponse{State: to, FriendshipID: &row.ID}, 0, "", nil
		default:
			return fail(http.StatusConflict, "invalid_state")
		}
	})
}

// DELETE /friends/{id}
// Ends an accepted friendship. Either party may remove.
func removeFriendHandler(db *sql.DB) http.HandlerFunc {
	return friendshipAction(db, "remove", func(ctx context.Context, tx *sql.Tx, row *FriendshipRow, me, target int) (friendshipResponse, int, string, error) {
		if row == nil {
			return fail(http.StatusNotFound, "not_found")
		}
		switch row.Status {
		case statusAccepted:
			if err := setFriendshipStatus(ctx, tx, row.ID, statusRemoved); err != nil {
				return friendshipResponse{}, 0, "", err
			}
			return friendshipResponse{State: statusRemoved, FriendshipID: &row.ID}, 0, "", nil
		case statusRemoved:
			return friendshipResponse{State: statusRemoved, FriendshipID: &row.ID}, 0, "", nil
		default:
			return fail(http.StatusConflict, "invalid_state")
		}
	})
}
