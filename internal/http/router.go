package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"emergency-call-console/internal/config"
	"emergency-call-console/internal/server"
)

// NewRouter constructs the HTTP router for the console service. The
// WebSocket endpoint is mounted at the configured path alongside plain
// health endpoints.
func NewRouter(cfg *config.Configuration, ws *server.Server) http.Handler {
	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	r.Get(cfg.Service.WSPath, ws.ServeWS)

	return r
}
