package main

import (
	"net/http"

	"github.com/go-chi/cors"
)

// The frontend dev server and the Docker frontend run on other origins, so
// the API answers CORS preflights for the configured allow-list.
func withCORS(origins []string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	})
}
