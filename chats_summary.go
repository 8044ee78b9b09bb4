package main

import (
	"context"
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// ChatPeerSummary represents a summary of a chat peer with recent activity
type ChatPeerSummary struct {
	UserID         int        `json:"userId"`
	Username       string     `json:"username"`
	ProfilePicture *string    `json:"profilePicture,omitempty"`
	LastMessageAt  *time.Time `json:"lastMessageAt,omitempty"`
	UnreadMessages int        `json:"unreadMessages"`
	IsOnline       bool       `json:"isOnline"`
}

const maxHistoryLimit = 200

// historyParams reads ?limit= (default 50) and ?before= (RFC 3339).
func historyParams(r *http.Request) (int, *time.Time) {
	limit := queryLimit(r, 50, maxHistoryLimit)
	var before *time.Time
	if s := r.URL.Query().Get("before"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			before = &t
		}
	}
	return limit, before
}

func chatIDFor(ctx context.Context, db *sql.DB, a, b int) (int, error) {
	var chatID int
	err := db.QueryRowContext(ctx, `
		SELECT id
		FROM chats
		WHERE user1_id = LEAST($1::int, $2::int) AND user2_id = GREATEST($1::int, $2::int)
	`, a, b).Scan(&chatID)
	return chatID, err
}

// getChatMessages returns the newest messages first and marks the peer's
// messages as read for userID.
func getChatMessages(ctx context.Context, db *sql.DB, userID, otherUserID, limit int, before *time.Time) ([]ChatMessage, error) {
	chatID, err := chatIDFor(ctx, db, userID, otherUserID)
	if err == sql.ErrNoRows {
		return []ChatMessage{}, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, sender_id, content, created_at
		FROM messages
		WHERE chat_id = $1
		  AND ($2::timestamptz IS NULL OR created_at < $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, chatID, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := make([]ChatMessage, 0, limit)
	for rows.Next() {
		m := ChatMessage{Type: "message", ChatID: chatID}
		if err := rows.Scan(&m.ID, &m.From, &m.Body, &m.Ts); err != nil {
			return nil, err
		}
		if m.From == userID {
			m.To = otherUserID
		} else {
			m.To = userID
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		// Don't mark as read if the query failed
		return nil, err
	}

	if err := markChatRead(ctx, db, chatID, userID); err != nil {
		logger.Warn("Mark chat read", zap.Int("chat_id", chatID), zap.Error(err))
	}
	return msgs, nil
}

// markChatRead marks the peer's messages read and clears userID's unread flag.
func markChatRead(ctx context.Context, db *sql.DB, chatID, userID int) error {
	return withTx(ctx, db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE messages
			SET is_read = TRUE
			WHERE chat_id = $1 AND sender_id <> $2 AND is_read IS FALSE
		`, chatID, userID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE chats c
			SET unread_for_user1 = CASE WHEN $2 = c.user1_id THEN FALSE ELSE unread_for_user1 END,
			    unread_for_user2 = CASE WHEN $2 = c.user2_id THEN FALSE ELSE unread_for_user2 END
			WHERE c.id = $1
		`, chatID, userID)
		return err
	})
}

// GET /chats/{peerId}/messages?limit=50&before=2025-09-16T08:00:00Z
func getChatHistoryHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		otherID, ok := pathID(r, "peerId")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_id")
			return
		}
		userID := currentUserID(r)
		limit, before := historyParams(r)

		msgs, err := getChatMessages(r.Context(), db, userID, otherID, limit, before)
		if err != nil {
			logger.Error("Fetch messages", zap.Int("user_id", userID), zap.Int("peer_id", otherID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		writeJSON(w, http.StatusOK, msgs)
	})
}

// GET /chats/summary
// Returns every friend of the logged in user with name, picture, latest
// message time and unread count, most recent conversation first.
func chatSummaryHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		userID := currentUserID(r)

		// 1) friends = all accepted peer ids
		// 2) chat_pairs = the chats row for this peer (NULL if no messages)
		// 3) unreads = unread messages sent to me by this peer
		const q = `
WITH friends AS (
  SELECT CASE WHEN f.requester_id = $1 THEN f.addressee_id ELSE f.requester_id END AS peer_id
  FROM friendships f
  WHERE f.status = 'accepted' AND (f.requester_id = $1 OR f.addressee_id = $1)
),
chat_pairs AS (
  SELECT fr.peer_id,
         ch.id AS chat_id,
         ch.last_message_at
  FROM friends fr
  LEFT JOIN chats ch
    ON ch.user1_id = LEAST($1::int, fr.peer_id)
   AND ch.user2_id = GREATEST($1::int, fr.peer_id)
),
unreads AS (
  SELECT cp.peer_id,
         COUNT(m.id) FILTER (WHERE m.is_read = FALSE AND m.sender_id = cp.peer_id) AS unread_count
  FROM chat_pairs cp
  LEFT JOIN messages m ON m.chat_id = cp.chat_id
  GROUP BY cp.peer_id
)
SELECT
  u.id,
  u.username,
  p.profile_picture,
  cp.last_message_at,
  COALESCE(un.unread_count, 0)
FROM friends fr
JOIN users u            ON u.id = fr.peer_id
LEFT JOIN profiles p    ON p.user_id = u.id
LEFT JOIN chat_pairs cp ON cp.peer_id = fr.peer_id
LEFT JOIN unreads un    ON un.peer_id = fr.peer_id
ORDER BY COALESCE(cp.last_message_at, to_timestamp(0)) DESC, u.id ASC`

		rows, err := db.QueryContext(r.Context(), q, userID)
		if err != nil {
			logger.Error("Query chat summary", zap.Int("user_id", userID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		defer rows.Close()

		summaries := make([]ChatPeerSummary, 0, 32)
		for rows.Next() {
			var s ChatPeerSummary
			if err := rows.Scan(&s.UserID, &s.Username, &s.ProfilePicture, &s.LastMessageAt, &s.UnreadMessages); err != nil {
				logger.Error("Scan chat summary", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "db_error")
				return
			}
			s.IsOnline = chatHub.isConnected(s.UserID) || isOnlineNow(r.Context(), s.UserID)
			summaries = append(summaries, s)
		}
		if err := rows.Err(); err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		writeJSON(w, http.StatusOK, summaries)
	})
}

// POST /chats/read?peer_id=123
// For receiving the ack from frontend that a message has been read
func chatsMarkReadHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		userID := currentUserID(r)
		peerID, err := strconv.Atoi(r.URL.Query().Get("peer_id"))
		if err != nil || peerID <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_id")
			return
		}

		chatID, err := chatIDFor(r.Context(), db, userID, peerID)
		if err == sql.ErrNoRows {
			// No chat -> nothing to mark
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		if err := markChatRead(r.Context(), db, chatID, userID); err != nil {
			logger.Error("Mark chat read", zap.Int("chat_id", chatID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

// GET /activities/{id}/messages?limit=50&before=...
// Members only.
func activityMessagesHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		activityID, ok := pathID(r, "id")
		if !ok {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		userID := currentUserID(r)

		member, err := isActivityMember(r.Context(), db, activityID, userID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		if !member {
			writeError(w, http.StatusForbidden, "not_member")
			return
		}

		limit, before := historyParams(r)
		rows, err := db.QueryContext(r.Context(), `
			SELECT id, sender_id, content, created_at
			FROM activity_messages
			WHERE activity_id = $1
			  AND ($2::timestamptz IS NULL OR created_at < $2)
			ORDER BY created_at DESC, id DESC
			LIMIT $3
		`, activityID, before, limit)
		if err != nil {
			logger.Error("Fetch activity messages", zap.Int("activity_id", activityID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		defer rows.Close()

		msgs := make([]ChatMessage, 0, limit)
		for rows.Next() {
			m := ChatMessage{Type: "group", ActivityID: activityID}
			if err := rows.Scan(&m.ID, &m.From, &m.Body, &m.Ts); err != nil {
				writeError(w, http.StatusInternalServerError, "db_error")
				return
			}
			msgs = append(msgs, m)
		}
		if err := rows.Err(); err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		writeJSON(w, http.StatusOK, msgs)
	})
}
