package main

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the runtime settings resolved from the environment.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string // empty disables the Redis cache and presence store
	JWTSecret   string
	Env         string
	CORSOrigins []string
	RecCacheTTL time.Duration
	AvatarDir   string
	ChatRate    float64 // messages per second per user
	ChatBurst   int
}

const (
	devDatabaseURL = "user=admin password=password dbname=peerconnect sslmode=disable"
	devJWTSecret   = "your_secret_key_please_change_in_production"
)

var defaultCORSOrigins = []string{
	"http://localhost:5173", "http://127.0.0.1:5173",
	"http://localhost:3001", "http://127.0.0.1:3001",
}

// loadConfig reads an optional .env file and then the process environment.
func loadConfig() Config {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("PORT", "8080")
	v.SetDefault("DATABASE_URL", devDatabaseURL)
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("JWT_SECRET", devJWTSecret)
	v.SetDefault("GO_ENV", "development")
	v.SetDefault("CORS_ORIGINS", strings.Join(defaultCORSOrigins, ","))
	v.SetDefault("RECOMMENDATION_CACHE_TTL", 5*time.Minute)
	v.SetDefault("AVATAR_DIR", "./uploads/avatars")
	v.SetDefault("CHAT_RATE_PER_SEC", 5.0)
	v.SetDefault("CHAT_BURST", 10)

	return Config{
		Port:        v.GetString("PORT"),
		DatabaseURL: v.GetString("DATABASE_URL"),
		RedisURL:    v.GetString("REDIS_URL"),
		JWTSecret:   v.GetString("JWT_SECRET"),
		Env:         v.GetString("GO_ENV"),
		CORSOrigins: splitList(v.GetString("CORS_ORIGINS")),
		RecCacheTTL: v.GetDuration("RECOMMENDATION_CACHE_TTL"),
		AvatarDir:   v.GetString("AVATAR_DIR"),
		ChatRate:    v.GetFloat64("CHAT_RATE_PER_SEC"),
		ChatBurst:   v.GetInt("CHAT_BURST"),
	}
}

func (c Config) isDev() bool {
	return c.Env == "" || c.Env == "development"
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
