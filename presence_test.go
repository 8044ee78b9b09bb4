package main

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDBPresence(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	p := dbPresence{db: db}
	u := createTestUser(t, "presence_db")

	online, err := p.IsOnline(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, online)

	_, err = db.Exec(`UPDATE users SET last_online = NOW() - INTERVAL '10 minutes' WHERE id = $1`, u.ID)
	require.NoError(t, err)
	online, err = p.IsOnline(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, online)

	require.NoError(t, p.Touch(ctx, u.ID))
	online, err = p.IsOnline(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, online)

	online, err = p.IsOnline(ctx, 2147483000)
	require.NoError(t, err)
	assert.False(t, online, "unknown users are offline")
}

func TestRedisPresence(t *testing.T) {
	requireDB(t)
	requireRedis(t)
	ctx := context.Background()
	p := redisPresence{rdb: testRedis, fallback: dbPresence{db: db}}
	u := createTestUser(t, "presence_redis")

	t.Run("Missing key falls back to last_online", func(t *testing.T) {
		require.NoError(t, testRedis.Del(ctx, presenceKey(u.ID)).Err())

		online, err := p.IsOnline(ctx, u.ID)
		require.NoError(t, err)
		assert.True(t, online, "recent last_online without a key")

		_, err = db.Exec(`UPDATE users SET last_online = NULL WHERE id = $1`, u.ID)
		require.NoError(t, err)
		online, err = p.IsOnline(ctx, u.ID)
		require.NoError(t, err)
		assert.False(t, online)
	})

	t.Run("Touch sets an expiring key", func(t *testing.T) {
		require.NoError(t, p.Touch(ctx, u.ID))

		val, err := testRedis.Get(ctx, "presence:"+strconv.Itoa(u.ID)).Result()
		require.NoError(t, err)
		assert.Equal(t, "1", val)

		ttl, err := testRedis.TTL(ctx, presenceKey(u.ID)).Result()
		require.NoError(t, err)
		assert.Greater(t, ttl, time.Duration(0))
		assert.LessOrEqual(t, ttl, onlineWindow)

		// the key alone answers, even with a stale row
		_, err = db.Exec(`UPDATE users SET last_online = NOW() - INTERVAL '10 minutes' WHERE id = $1`, u.ID)
		require.NoError(t, err)
		online, err := p.IsOnline(ctx, u.ID)
		require.NoError(t, err)
		assert.True(t, online)
	})
}

func TestPingMarksOnline(t *testing.T) {
	requireDB(t)
	me := createTestUser(t, "ping")
	viewer := createTestUser(t, "ping_viewer")
	_, err := db.Exec(`UPDATE users SET last_online = NULL WHERE id = $1`, me.ID)
	require.NoError(t, err)
	assert.False(t, isOnlineNow(context.Background(), me.ID))

	w := do(t, &me, http.MethodPost, "/me/ping", nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	resp := decode[map[string]any](t, do(t, &viewer, http.MethodGet, fmt.Sprintf("/users/%d", me.ID), nil))
	assert.Equal(t, true, resp["isOnline"])
}

func TestPresenceUnset(t *testing.T) {
	prev := presence
	presence = nil
	t.Cleanup(func() { presence = prev })

	touchPresence(context.Background(), 1)
	assert.False(t, isOnlineNow(context.Background(), 1))
}
