package main

import (
	"context"
	"database/sql"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// avatarRoot is where uploaded pictures live; main sets it from config.
var avatarRoot = "./uploads/avatars"

const maxAvatarBytes = 3 << 20

// POST /me/avatar  (multipart form, field name: "file")
func uploadAvatarHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		me := currentUserID(r)

		r.Body = http.MaxBytesReader(w, r.Body, maxAvatarBytes)
		if err := r.ParseMultipartForm(4 << 20); err != nil {
			writeError(w, http.StatusRequestEntityTooLarge, "file_too_large_or_missing")
			return
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "missing_file")
			return
		}
		defer f.Close()

		// Sniff MIME from the first bytes
		head := make([]byte, 512)
		n, _ := f.Read(head)
		if http.DetectContentType(head[:n]) != "image/jpeg" {
			writeError(w, http.StatusBadRequest, "only_jpeg_allowed")
			return
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			writeError(w, http.StatusInternalServerError, "seek_failed")
			return
		}

		filename := uuid.NewString() + ".jpg"
		if err := storeAvatarFile(f, filename); err != nil {
			logger.Error("Store avatar", zap.Int("user_id", me), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "save_failed")
			return
		}

		previous, err := swapProfilePicture(r.Context(), db, me, &filename)
		if err != nil {
			_ = os.Remove(filepath.Join(avatarRoot, filename))
			logger.Error("Save avatar filename", zap.Int("user_id", me), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "db_update_failed")
			return
		}
		removeAvatarFile(previous)

		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "profilePicture": filename})
	})
}

// DELETE /me/avatar
func deleteAvatarHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		me := currentUserID(r)
		previous, err := swapProfilePicture(r.Context(), db, me, nil)
		if err != nil {
			logger.Error("Clear avatar", zap.Int("user_id", me), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "remove_failed")
			return
		}
		removeAvatarFile(previous)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
}

// GET /avatars/{file}
func getAvatarHandler() http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		// Only the base name, so ../ cannot escape the avatar directory
		name := filepath.Base(chi.URLParam(r, "file"))
		if !strings.HasSuffix(name, ".jpg") {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		path := filepath.Join(avatarRoot, name)
		if _, err := os.Stat(path); err != nil {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}

		w.Header().Set("Content-Type", "image/jpeg")
		// Light cache - file names change on every upload
		w.Header().Set("Cache-Control", "private, max-age=3600")
		http.ServeFile(w, r, path)
	})
}

// storeAvatarFile writes through a temp file so readers never see a
// partial image.
func storeAvatarFile(src io.Reader, filename string) error {
	if err := os.MkdirAll(avatarRoot, 0o755); err != nil {
		return errors.Wrap(err, "create avatar dir")
	}
	dst := filepath.Join(avatarRoot, filename)
	tmp := dst + ".tmp"

	out, err := os.Create(tmp)
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		_ = os.Remove(tmp)
		return errors.Wrap(err, "write avatar")
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(err, "close avatar")
	}
	return errors.Wrap(os.Rename(tmp, dst), "rename avatar")
}

// swapProfilePicture stores filename (nil clears it) and returns the
// previous value.
func swapProfilePicture(ctx context.Context, db *sql.DB, userID int, filename *string) (string, error) {
	var previous sql.NullString
	err := withTx(ctx, db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO profiles (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID); err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx,
			`SELECT profile_picture FROM profiles WHERE user_id = $1 FOR UPDATE`, userID,
		).Scan(&previous); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE profiles SET profile_picture = $1, updated_at = NOW() WHERE user_id = $2`, filename, userID)
		return err
	})
	return previous.String, err
}

func removeAvatarFile(filename string) {
	if filename == "" {
		return
	}
	path := filepath.Join(avatarRoot, filepath.Base(filename))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warn("Remove avatar file", zap.String("path", path), zap.Error(err))
	}
}
