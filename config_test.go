package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	for _, k := range []string{"PORT", "DATABASE_URL", "REDIS_URL", "JWT_SECRET", "GO_ENV", "CORS_ORIGINS",
		"RECOMMENDATION_CACHE_TTL", "AVATAR_DIR", "CHAT_RATE_PER_SEC", "CHAT_BURST"} {
		t.Setenv(k, "")
	}

	cfg := loadConfig()
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, devDatabaseURL, cfg.DatabaseURL)
	assert.Empty(t, cfg.RedisURL)
	assert.Equal(t, devJWTSecret, cfg.JWTSecret)
	assert.True(t, cfg.isDev())
	assert.Equal(t, defaultCORSOrigins, cfg.CORSOrigins)
	assert.Equal(t, 5*time.Minute, cfg.RecCacheTTL)
	assert.Equal(t, 5.0, cfg.ChatRate)
	assert.Equal(t, 10, cfg.ChatBurst)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("GO_ENV", "production")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("RECOMMENDATION_CACHE_TTL", "30s")
	t.Setenv("CHAT_BURST", "3")

	cfg := loadConfig()
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	assert.False(t, cfg.isDev())
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, 30*time.Second, cfg.RecCacheTTL)
	assert.Equal(t, 3, cfg.ChatBurst)
}
