package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// logger is a no-op until main configures it, so tests stay quiet.
var logger = zap.NewNop()

func newLogger(cfg Config) *zap.Logger {
	var l *zap.Logger
	var err error
	if cfg.isDev() {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// newRouter wires every endpoint. Handlers take db explicitly so tests can
// mount the same tree against their own database.
func newRouter(db *sql.DB, cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(withCORS(cfg.CORSOrigins))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Core auth & user endpoints
	r.Post("/register", registerHandler(db))
	r.Post("/login", loginHandler(db))
	r.Get("/me", meHandler(db))
	r.Get("/me/profile", meProfileHandler(db))
	r.Put("/me/profile", updateProfileHandler(db))
	r.Post("/me/ping", mePingHandler())
	r.Post("/me/avatar", uploadAvatarHandler(db))
	r.Delete("/me/avatar", deleteAvatarHandler(db))
	r.Get("/avatars/{file}", getAvatarHandler())
	r.Get("/users/{id}", userHandler(db))

	// Recommendations share per-request batched loaders
	r.Route("/recommendations", func(r chi.Router) {
		r.Use(DataLoaderMiddleware(db))
		r.Get("/suggested-peers", suggestedPeersHandler(db))
		r.Get("/similarity/{targetUserId}", similarityHandler(db))
		r.Get("/friends", friendSuggestionsHandler(db))
		r.Get("/activities", activitySuggestionsHandler(db))
		r.Post("/{id}/dismiss", dismissRecommendationHandler(db))
	})

	r.Route("/activities", func(r chi.Router) {
		r.Get("/", listActivitiesHandler(db))
		r.Post("/", createActivityHandler(db))
		r.Get("/{id}", getActivityHandler(db))
		r.Delete("/{id}", deleteActivityHandler(db))
		r.Post("/{id}/join", joinActivityHandler(db))
		r.Post("/{id}/leave", leaveActivityHandler(db))
		r.Get("/{id}/messages", activityMessagesHandler(db))
	})

	r.Route("/friends", func(r chi.Router) {
		r.Get("/", friendsHandler(db))
		r.Get("/requests", friendRequestsHandler(db))
		r.Post("/{id}/request", requestFriendHandler(db))
		r.Post("/{id}/accept", acceptFriendHandler(db))
		r.Post("/{id}/decline", declineFriendHandler(db))
		r.Post("/{id}/cancel", cancelFriendHandler(db))
		r.Delete("/{id}", removeFriendHandler(db))
	})

	r.Get("/ws/chat", wsChatHandler(db))
	r.Get("/chats/summary", chatSummaryHandler(db))
	r.Post("/chats/read", chatsMarkReadHandler(db))
	r.Get("/chats/{peerId}/messages", getChatHistoryHandler(db))

	return r
}

func main() {
	cfg := loadConfig()
	logger = newLogger(cfg)
	defer logger.Sync()

	if cfg.JWTSecret == devJWTSecret && !cfg.isDev() {
		logger.Warn("JWT_SECRET is not set, using the development secret")
	}
	jwtSecret = []byte(cfg.JWTSecret)
	avatarRoot = cfg.AvatarDir
	chatLimiter = newMessageLimiter(cfg.ChatRate, cfg.ChatBurst)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	db, err = initDB(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Database unavailable", zap.Error(err))
	}
	defer db.Close()

	presence = dbPresence{db: db}
	if cfg.RedisURL != "" {
		rdb, err := newRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn("Redis unavailable, recommendations are not cached", zap.Error(err))
		} else {
			defer rdb.Close()
			recCache = newRedisCache(rdb, cfg.RecCacheTTL)
			presence = redisPresence{rdb: rdb, fallback: dbPresence{db: db}}
			logger.Info("Redis connected", zap.Duration("cache_ttl", cfg.RecCacheTTL))
		}
	}

	if err := os.MkdirAll(avatarRoot, 0o755); err != nil {
		logger.Warn("Create avatar directory", zap.String("dir", avatarRoot), zap.Error(err))
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newRouter(db, cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting PeerConnect backend", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
	}
}
