package main

import (
	"net/http"

	"github.com/rs/cors"
)

// The dashboard frontend runs on a different origin (Vite dev server or the
// Docker frontend), so the API needs CORS headers.

func withCORS(next http.Handler, origins []string) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}).Handler(next)
}
