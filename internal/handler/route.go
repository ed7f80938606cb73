package handler

import (
	"encoding/json"
	"net/http"

	"github.com/connexus-ai/ragsupport-gateway/internal/backendpool"
	"github.com/connexus-ai/ragsupport-gateway/internal/classify"
	"github.com/connexus-ai/ragsupport-gateway/internal/generate"
)

// RouteRequest is the body of POST /api/intelligent-route.
type RouteRequest struct {
	Query string `json:"query"`
}

// RouteResponse reports which backend and specialization a query would be
// routed to, without performing generation.
type RouteResponse struct {
	Category       string `json:"category"`
	Strategy       string `json:"strategy"`
	Specialization string `json:"specialization"`
	Backend        string `json:"backend"`
}

// IntelligentRoute reports which backend a query would be routed to given
// its classification, without performing retrieval or generation.
// POST /api/intelligent-route
func IntelligentRoute(pool *backendpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RouteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
			return
		}
		if req.Query == "" {
			respondError(w, http.StatusUnprocessableEntity, ErrCodeValidation, "query is required")
			return
		}

		cls := classify.Classify(req.Query)
		spec := generate.SpecializationFor(cls.Category)

		backend, err := pool.Pick(spec)
		backendName := ""
		if err == nil {
			backendName = backend.Name()
		}

		respondOK(w, RouteResponse{
			Category:       string(cls.Category),
			Strategy:       string(cls.Strategy),
			Specialization: string(spec),
			Backend:        backendName,
		})
	}
}
