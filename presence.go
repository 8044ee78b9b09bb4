package main

import (
	"context"
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// onlineWindow is how long a user counts as online after their last request.
const onlineWindow = 90 * time.Second

type presenceStore interface {
	Touch(ctx context.Context, userID int) error
	IsOnline(ctx context.Context, userID int) (bool, error)
}

// presence is nil until main or the tests pick a store.
var presence presenceStore

// dbPresence keeps last_online on the users row.
type dbPresence struct {
	db *sql.DB
}

func (p dbPresence) Touch(ctx context.Context, userID int) error {
	_, err := p.db.ExecContext(ctx, `UPDATE users SET last_online = NOW() WHERE id = $1`, userID)
	return err
}

func (p dbPresence) IsOnline(ctx context.Context, userID int) (bool, error) {
	var online bool
	err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(last_online > NOW() - make_interval(secs => $2), FALSE)
		FROM users
		WHERE id = $1
	`, userID, onlineWindow.Seconds()).Scan(&online)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return online, err
}

// redisPresence keeps one expiring presence:<id> key per user and mirrors
// touches to the database. A missing key or a Redis error falls back to
// last_online, so a flushed or restarted Redis does not mark everyone offline.
type redisPresence struct {
	rdb      *redis.Client
	fallback dbPresence
}

func presenceKey(userID int) string {
	return "presence:" + strconv.Itoa(userID)
}

func (p redisPresence) Touch(ctx context.Context, userID int) error {
	if err := p.rdb.Set(ctx, presenceKey(userID), 1, onlineWindow).Err(); err != nil {
		return err
	}
	return p.fallback.Touch(ctx, userID)
}

func (p redisPresence) IsOnline(ctx context.Context, userID int) (bool, error) {
	n, err := p.rdb.Exists(ctx, presenceKey(userID)).Result()
	if err != nil {
		logger.Warn("Read presence key", zap.Int("user_id", userID), zap.Error(err))
		return p.fallback.IsOnline(ctx, userID)
	}
	if n > 0 {
		return true, nil
	}
	return p.fallback.IsOnline(ctx, userID)
}

func touchPresence(ctx context.Context, userID int) {
	if presence == nil {
		return
	}
	if err := presence.Touch(ctx, userID); err != nil {
		logger.Warn("Update presence", zap.Int("user_id", userID), zap.Error(err))
	}
}

// isOnlineNow reports presence, treating lookup failures as offline.
func isOnlineNow(ctx context.Context, userID int) bool {
	if presence == nil {
		return false
	}
	online, err := presence.IsOnline(ctx, userID)
	if err != nil {
		logger.Warn("Read presence", zap.Int("user_id", userID), zap.Error(err))
		return false
	}
	return online
}

// POST /me/ping marks the caller online; authenticate already did the work.
func mePingHandler() http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}
