package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndLogin(t *testing.T) {
	requireDB(t)
	n := nonce()
	email := "register_" + n + "@example.com"
	username := "register_" + n

	t.Run("Register creates user and profile", func(t *testing.T) {
		w := do(t, nil, http.MethodPost, "/register", credentials{Email: email, Username: username, Password: "secret123"})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		resp := decode[struct {
			Token string `json:"token"`
			ID    int    `json:"id"`
		}](t, w)
		assert.NotEmpty(t, resp.Token)

		id, ok := parseUserIDFromJWT(resp.Token)
		require.True(t, ok)
		assert.Equal(t, resp.ID, id)

		var profiles int
		require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM profiles WHERE user_id = $1`, resp.ID).Scan(&profiles))
		assert.Equal(t, 1, profiles)
	})

	t.Run("Duplicate email", func(t *testing.T) {
		w := do(t, nil, http.MethodPost, "/register", credentials{Email: email, Username: "other_" + n, Password: "x"})
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "email_exists", errorCode(t, w))
	})

	t.Run("Duplicate username", func(t *testing.T) {
		w := do(t, nil, http.MethodPost, "/register", credentials{Email: "other_" + n + "@example.com", Username: username, Password: "x"})
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "username_exists", errorCode(t, w))
	})

	t.Run("Missing fields", func(t *testing.T) {
		w := do(t, nil, http.MethodPost, "/register", credentials{Email: "  ", Username: "u", Password: "p"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "missing_fields", errorCode(t, w))
	})

	t.Run("Login with correct password", func(t *testing.T) {
		w := do(t, nil, http.MethodPost, "/login", credentials{Email: email, Password: "secret123"})
		require.Equal(t, http.StatusOK, w.Code)
		assert.NotEmpty(t, decode[map[string]any](t, w)["token"])
	})

	t.Run("Login with wrong password", func(t *testing.T) {
		w := do(t, nil, http.MethodPost, "/login", credentials{Email: email, Password: "nope"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "invalid_credentials", errorCode(t, w))
	})

	t.Run("Login unknown email", func(t *testing.T) {
		w := do(t, nil, http.MethodPost, "/login", credentials{Email: "ghost_" + n + "@example.com", Password: "x"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestRegisterInvalidJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/register", nil)
	w := httptest.NewRecorder()
	registerHandler(db).ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_json", errorCode(t, w))
}

func TestAuthenticate(t *testing.T) {
	var seen int
	h := authenticate(func(w http.ResponseWriter, r *http.Request) {
		seen = currentUserID(r)
		w.WriteHeader(http.StatusNoContent)
	})
	serve := func(header string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w.Code
	}

	t.Run("Valid token", func(t *testing.T) {
		tok, err := issueToken(7)
		require.NoError(t, err)
		assert.Equal(t, http.StatusNoContent, serve("Bearer "+tok))
		assert.Equal(t, 7, seen)
	})

	t.Run("Missing header", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, serve(""))
	})

	t.Run("Not a bearer token", func(t *testing.T) {
		tok, _ := issueToken(7)
		assert.Equal(t, http.StatusUnauthorized, serve("Basic "+tok))
	})

	t.Run("Wrong secret", func(t *testing.T) {
		tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": 7, "exp": time.Now().Add(time.Hour).Unix()})
		s, err := tok.SignedString([]byte("another-secret"))
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, serve("Bearer "+s))
	})

	t.Run("Expired token", func(t *testing.T) {
		tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": 7, "exp": time.Now().Add(-time.Hour).Unix()})
		s, err := tok.SignedString(jwtSecret)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, serve("Bearer "+s))
	})

	t.Run("Unsigned token", func(t *testing.T) {
		tok := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"user_id": 7})
		s, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, serve("Bearer "+s))
	})
}

func TestGetUserIDFromRequestQueryToken(t *testing.T) {
	tok, err := issueToken(11)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/ws/chat?token="+tok, nil)
	id, ok := getUserIDFromRequest(req)
	assert.True(t, ok)
	assert.Equal(t, 11, id)

	_, ok = getUserIDFromRequest(httptest.NewRequest(http.MethodGet, "/ws/chat", nil))
	assert.False(t, ok)
}
