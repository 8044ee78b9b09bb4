package main

import (
	"context"
	"database/sql"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gitea.kood.tech/petrkubec/peerconnect/similarity"
)

// maxSuggestionLimit caps ?limit= on the recommendation endpoints.
const maxSuggestionLimit = 50

// peerSuggestion is one entry of GET /recommendations/suggested-peers.
type peerSuggestion struct {
	User            peerCard                 `json:"user"`
	SimilarityScore int                      `json:"similarityScore"`
	Breakdown       similarity.Breakdown     `json:"breakdown"`
	Commonalities   similarity.Commonalities `json:"commonalities"`
}

// friendSuggestion is one entry of GET /recommendations/friends.
type friendSuggestion struct {
	User  peerCard `json:"user"`
	Score int      `json:"score"`
}

// GET /recommendations/suggested-peers?limit=10
func suggestedPeersHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		me := currentUserID(r)
		limit := queryLimit(r, similarity.DefaultLimit, maxSuggestionLimit)
		field := "suggested:" + strconv.Itoa(limit)

		var cached []peerSuggestion
		if recCache.Get(r.Context(), me, field, &cached) {
			writeJSON(w, http.StatusOK, cached)
			return
		}

		suggestions, err := suggestPeers(r.Context(), db, me, limit)
		if errors.Is(err, errUserNotFound) {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		if err != nil {
			logger.Error("Suggest peers", zap.Int("user_id", me), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "recommendation_error")
			return
		}

		recCache.Set(r.Context(), me, field, suggestions)
		writeJSON(w, http.StatusOK, suggestions)
	})
}

// suggestPeers scores every eligible candidate with the detailed formula and
// keeps the best limit above the minimum score. Candidate activity lists are
// fetched concurrently through the batched loader and any failure aborts
// the whole request.
func suggestPeers(ctx context.Context, db *sql.DB, me, limit int) ([]peerSuggestion, error) {
	loaders := loadersFrom(ctx, db)

	self, err := loaders.UserLoader.Load(ctx, me)()
	if err != nil {
		return nil, err
	}
	excluded, err := loadExclusionSet(ctx, db, me)
	if err != nil {
		return nil, err
	}
	candidates, err := loadCandidates(ctx, db, excluded)
	if err != nil {
		return nil, err
	}

	var selfActs []similarity.ActivityRef
	candActs := make([][]similarity.ActivityRef, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		acts, err := loaders.ActivityLoader.Load(gctx, me)()
		selfActs = acts
		return errors.Wrap(err, "load own activities")
	})
	for i, c := range candidates {
		g.Go(func() error {
			acts, err := loaders.ActivityLoader.Load(gctx, c.ID)()
			if err != nil {
				return errors.Wrapf(err, "load activities of user %d", c.ID)
			}
			candActs[i] = acts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	scored := make([]peerSuggestion, len(candidates))
	for i, c := range candidates {
		res := similarity.Detailed(self.Profile, c.Profile, selfActs, candActs[i])
		scored[i] = peerSuggestion{
			User:            c.card(),
			SimilarityScore: res.Overall,
			Breakdown:       res.Breakdown,
			Commonalities:   res.Commonalities,
		}
	}

	return similarity.Rank(scored, func(s peerSuggestion) int { return s.SimilarityScore },
		similarity.MinScore, limit), nil
}

// GET /recommendations/similarity/{targetUserId}
func similarityHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		me := currentUserID(r)
		target, err := strconv.Atoi(chi.URLParam(r, "targetUserId"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_id")
			return
		}
		if target == me {
			writeError(w, http.StatusBadRequest, "invalid_comparison")
			return
		}

		res, err := compareUsers(r.Context(), db, me, target)
		if errors.Is(err, errUserNotFound) {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		if err != nil {
			logger.Error("Compare users", zap.Int("user_id", me), zap.Int("target_id", target), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "similarity_error")
			return
		}
		writeJSON(w, http.StatusOK, res)
	})
}

// compareUsers loads both users and their activities in one batch each and
// runs the detailed comparison.
func compareUsers(ctx context.Context, db *sql.DB, a, b int) (similarity.Result, error) {
	loaders := loadersFrom(ctx, db)

	userA := loaders.UserLoader.Load(ctx, a)
	userB := loaders.UserLoader.Load(ctx, b)
	actsA := loaders.ActivityLoader.Load(ctx, a)
	actsB := loaders.ActivityLoader.Load(ctx, b)

	ua, err := userA()
	if err != nil {
		return similarity.Result{}, err
	}
	ub, err := userB()
	if err != nil {
		return similarity.Result{}, err
	}
	la, err := actsA()
	if err != nil {
		return similarity.Result{}, err
	}
	lb, err := actsB()
	if err != nil {
		return similarity.Result{}, err
	}
	return similarity.Detailed(ua.Profile, ub.Profile, la, lb), nil
}

// GET /recommendations/friends?strategy=quick
func friendSuggestionsHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		me := currentUserID(r)

		var strategy similarity.Strategy = similarity.QuickOverlapStrategy{}
		if name := r.URL.Query().Get("strategy"); name != "" {
			s, ok := similarity.StrategyByName(name)
			if !ok {
				writeError(w, http.StatusBadRequest, "invalid_strategy")
				return
			}
			strategy = s
		}
		field := "friends:" + strategy.Name()

		var cached []friendSuggestion
		if recCache.Get(r.Context(), me, field, &cached) {
			writeJSON(w, http.StatusOK, cached)
			return
		}

		suggestions, err := suggestFriends(r.Context(), db, me, strategy)
		if errors.Is(err, errUserNotFound) {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		if err != nil {
			logger.Error("Suggest friends", zap.Int("user_id", me), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "recommendation_error")
			return
		}

		recCache.Set(r.Context(), me, field, suggestions)
		writeJSON(w, http.StatusOK, suggestions)
	})
}

// suggestFriends prefilters candidates in SQL, scores at most
// QuickCandidateCap of them with strategy and keeps the top QuickLimit with
// a positive score.
func suggestFriends(ctx context.Context, db *sql.DB, me int, strategy similarity.Strategy) ([]friendSuggestion, error) {
	self, err := loadUser(ctx, db, me)
	if err != nil {
		return nil, err
	}
	excluded, err := loadExclusionSet(ctx, db, me)
	if err != nil {
		return nil, err
	}
	candidates, err := loadQuickCandidates(ctx, db, self, excluded, similarity.QuickCandidateCap)
	if err != nil {
		return nil, err
	}

	ids := make([]int, 0, len(candidates)+1)
	ids = append(ids, me)
	for _, c := range candidates {
		ids = append(ids, c.ID)
	}
	acts, err := loadActivitiesForUsers(ctx, db, ids)
	if err != nil {
		return nil, err
	}

	subject := similarity.Subject{Profile: self.Profile, Activities: acts[me]}
	scored := make([]friendSuggestion, len(candidates))
	for i, c := range candidates {
		scored[i] = friendSuggestion{
			User:  c.card(),
			Score: strategy.Score(subject, similarity.Subject{Profile: c.Profile, Activities: acts[c.ID]}),
		}
	}
	return similarity.Rank(scored, func(s friendSuggestion) int { return s.Score }, 0, similarity.QuickLimit), nil
}

// GET /recommendations/activities?limit=10
func activitySuggestionsHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		me := currentUserID(r)
		limit := queryLimit(r, similarity.DefaultLimit, maxSuggestionLimit)
		field := "activities:" + strconv.Itoa(limit)

		var cached []activitySuggestion
		if recCache.Get(r.Context(), me, field, &cached) {
			writeJSON(w, http.StatusOK, cached)
			return
		}

		self, err := loadUser(r.Context(), db, me)
		if errors.Is(err, errUserNotFound) {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		if err != nil {
			logger.Error("Load user", zap.Int("user_id", me), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		open, err := loadOpenActivities(r.Context(), db, me)
		if err != nil {
			logger.Error("Load open activities", zap.Int("user_id", me), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "recommendation_error")
			return
		}

		suggestions := rankActivities(self.Profile, open, limit)
		recCache.Set(r.Context(), me, field, suggestions)
		writeJSON(w, http.StatusOK, suggestions)
	})
}

// POST /recommendations/{id}/dismiss
func dismissRecommendationHandler(db *sql.DB) http.HandlerFunc {
	return authenticate(func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r, "id")
		if !ok {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		userID := currentUserID(r)
		if id == userID {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		exists, err := userExists(r.Context(), db, id)
		if err != nil || !exists {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}

		// Insert dismissal (ignore duplicates)
		_, err = db.ExecContext(r.Context(),
			`INSERT INTO dismissed_recommendations (user_id, dismissed_user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			userID, id)
		if err != nil {
			logger.Error("Dismiss recommendation", zap.Int("user_id", userID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "dismiss_error")
			return
		}
		recCache.Invalidate(r.Context(), userID)
		writeJSON(w, http.StatusCreated, map[string]bool{"dismissed": true})
	})
}
