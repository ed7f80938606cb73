package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/connexus-ai/ragsupport-gateway/internal/backendpool"
	"github.com/connexus-ai/ragsupport-gateway/internal/model"
)

// OllamaHealth reports a point-in-time snapshot of every backend in the
// fleet: specialization, health, last probe RTT, and current in-flight count.
// GET /api/ollama-health
func OllamaHealth(pool *backendpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondOK(w, pool.Statuses())
	}
}

// HealthDetailsResponse extends the basic health probe with backend fleet
// status, for authenticated operators.
type HealthDetailsResponse struct {
	Status   string                `json:"status"`
	Database string                `json:"database"`
	Backends []model.BackendStatus `json:"backends"`
}

// HealthDetails is the authenticated, extended health check combining DB
// connectivity and the backend fleet snapshot.
// GET /health/details
func HealthDetails(db DBPinger, pool *backendpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		dbStatus := "connected"
		status := "ok"
		if db != nil {
			if err := db.Ping(ctx); err != nil {
				dbStatus = "disconnected"
				status = "degraded"
			}
		}

		resp := HealthDetailsResponse{Status: status, Database: dbStatus, Backends: pool.Statuses()}
		httpStatus := http.StatusOK
		anyHealthy := false
		for _, b := range resp.Backends {
			if b.Healthy {
				anyHealthy = true
				break
			}
		}
		if !anyHealthy && len(resp.Backends) > 0 {
			status = "degraded"
			resp.Status = status
		}
		if status == "degraded" {
			httpStatus = http.StatusServiceUnavailable
		}

		respondStatus(w, httpStatus, resp)
	}
}
