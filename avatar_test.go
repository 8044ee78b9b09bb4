package main

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jpegBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := 0; x < 8; x++ {
		img.Set(x, x, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func uploadAvatar(t *testing.T, u TestUser, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "avatar.jpg")
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/me/avatar", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+u.Token)
	w := httptest.NewRecorder()
	newRouter(db, testConfig).ServeHTTP(w, req)
	return w
}

func TestAvatarLifecycle(t *testing.T) {
	requireDB(t)
	me := createTestUser(t, "avatar")
	viewer := createTestUser(t, "avatar_viewer")

	w := uploadAvatar(t, me, jpegBytes(t))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	first := decode[map[string]any](t, w)["profilePicture"].(string)
	assert.True(t, strings.HasSuffix(first, ".jpg"))
	assert.FileExists(t, filepath.Join(avatarRoot, first))

	t.Run("Profile points at the file", func(t *testing.T) {
		u, err := loadUser(t.Context(), db, me.ID)
		require.NoError(t, err)
		require.NotNil(t, u.ProfilePicture)
		assert.Equal(t, first, *u.ProfilePicture)
	})

	t.Run("Any signed-in user can fetch it", func(t *testing.T) {
		w := do(t, &viewer, http.MethodGet, "/avatars/"+first, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
		assert.NotEmpty(t, w.Body.Bytes())

		w = do(t, nil, http.MethodGet, "/avatars/"+first, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Replacing removes the old file", func(t *testing.T) {
		w := uploadAvatar(t, me, jpegBytes(t))
		require.Equal(t, http.StatusOK, w.Code)
		second := decode[map[string]any](t, w)["profilePicture"].(string)
		assert.NotEqual(t, first, second)
		assert.NoFileExists(t, filepath.Join(avatarRoot, first))
		assert.FileExists(t, filepath.Join(avatarRoot, second))

		w = do(t, &me, http.MethodDelete, "/me/avatar", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.NoFileExists(t, filepath.Join(avatarRoot, second))

		u, err := loadUser(t.Context(), db, me.ID)
		require.NoError(t, err)
		assert.Nil(t, u.ProfilePicture)
	})
}

func TestAvatarRejectsNonJPEG(t *testing.T) {
	requireDB(t)
	me := createTestUser(t, "avatar_png")

	w := uploadAvatar(t, me, []byte("\x89PNG\r\n\x1a\nnot really a png"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "only_jpeg_allowed", errorCode(t, w))
}

func TestGetAvatarRejectsBadNames(t *testing.T) {
	tok, err := issueToken(1)
	require.NoError(t, err)
	u := TestUser{ID: 1, Token: tok}

	require.NoError(t, os.WriteFile(filepath.Join(avatarRoot, "notes.txt"), []byte("x"), 0o644))

	for _, name := range []string{"notes.txt", "missing.jpg", "..%2F..%2Fetc%2Fpasswd"} {
		w := do(t, &u, http.MethodGet, "/avatars/"+name, nil)
		assert.Equal(t, http.StatusNotFound, w.Code, name)
	}
}
