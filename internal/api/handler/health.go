package handler

import (
	"net/http"

	"github.com/escuelachat/chat-api/internal/api/response"
	"github.com/escuelachat/chat-api/internal/repository/postgres"
	"github.com/escuelachat/chat-api/internal/upstream"
)

// HealthCheck returns a simple health check response
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	response.OK(w, map[string]string{
		"status": "ok",
	})
}

// ReadyCheck returns readiness status including database connectivity and
// upstream configuration.
func ReadyCheck(db *postgres.DB, relayer upstream.Relayer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context()); err != nil {
			response.Error(w, http.StatusServiceUnavailable, "database not ready")
			return
		}

		response.OK(w, map[string]any{
			"status":             "ready",
			"upstreamConfigured": relayer.IsConfigured(),
		})
	}
}
