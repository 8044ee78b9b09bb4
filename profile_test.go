package main

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitea.kood.tech/petrkubec/peerconnect/similarity"
)

func TestMe(t *testing.T) {
	requireDB(t)
	me := createTestUser(t, "me")

	w := do(t, &me, http.MethodGet, "/me", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[map[string]any](t, w)
	assert.Equal(t, float64(me.ID), resp["id"])
	assert.Equal(t, me.Email, resp["email"])
	assert.Equal(t, me.Username, resp["username"])

	w = do(t, nil, http.MethodGet, "/me", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestProfileUpdate(t *testing.T) {
	requireDB(t)
	me := createTestUser(t, "profile")

	t.Run("Fresh profile has empty lists", func(t *testing.T) {
		w := do(t, &me, http.MethodGet, "/me/profile", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"interests":[]`)
		assert.Contains(t, w.Body.String(), `"favoriteGames":[]`)
	})

	t.Run("Partial update trims and cleans", func(t *testing.T) {
		w := do(t, &me, http.MethodPut, "/me/profile", map[string]any{
			"bio":       "  hello  ",
			"major":     " Biology ",
			"interests": []string{" music ", "music", ""},
			"sports":    []string{"tennis"},
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		v := decode[profileView](t, w)
		assert.Equal(t, "hello", v.Bio)
		assert.Equal(t, "Biology", v.Major)
		assert.Equal(t, similarity.Tags{"music"}, v.Interests)
		assert.Equal(t, similarity.Tags{"tennis"}, v.Sports)
	})

	t.Run("Absent fields are kept", func(t *testing.T) {
		w := do(t, &me, http.MethodPut, "/me/profile", map[string]any{"location": "Tartu"})
		require.Equal(t, http.StatusOK, w.Code)
		v := decode[profileView](t, w)
		assert.Equal(t, "Tartu", v.Location)
		assert.Equal(t, "Biology", v.Major)
		assert.Equal(t, similarity.Tags{"music"}, v.Interests)
	})

	t.Run("Explicit empty list clears", func(t *testing.T) {
		w := do(t, &me, http.MethodPut, "/me/profile", map[string]any{"sports": []string{}})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, decode[profileView](t, w).Sports)

		u, err := loadUser(t.Context(), db, me.ID)
		require.NoError(t, err)
		assert.Empty(t, u.Profile.Sports)
		assert.Equal(t, similarity.Tags{"music"}, u.Profile.Interests)
	})

	t.Run("Scalars in tag lists are stringified", func(t *testing.T) {
		w := do(t, &me, http.MethodPut, "/me/profile", map[string]any{"skills": []any{"go", 42, nil}})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, similarity.Tags{"go", "42"}, decode[profileView](t, w).Skills)
	})

	t.Run("Invalid JSON", func(t *testing.T) {
		w := do(t, &me, http.MethodPut, "/me/profile", "not an object")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestUserHandler(t *testing.T) {
	requireDB(t)
	viewer := createTestUser(t, "viewer")
	target := createTestUser(t, "viewed")
	setProfile(t, target, similarity.Profile{Major: "Physics", Hobbies: similarity.Tags{"climbing"}})

	w := do(t, &viewer, http.MethodGet, fmt.Sprintf("/users/%d", target.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[map[string]any](t, w)
	assert.Equal(t, target.Username, resp["username"])
	assert.Equal(t, "Physics", resp["major"])
	assert.Equal(t, []any{"climbing"}, resp["hobbies"])
	// createTestUser stamps last_online
	assert.Equal(t, true, resp["isOnline"])

	w = do(t, &viewer, http.MethodGet, "/users/2147483000", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = do(t, &viewer, http.MethodGet, "/users/abc", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCleanTags(t *testing.T) {
	assert.Equal(t, similarity.Tags{"a", "B", "b"}, cleanTags(similarity.Tags{" a ", "", "B", "a", "b", "   "}))
	assert.Equal(t, similarity.Tags{}, cleanTags(nil))
}
