package handler

import (
	"encoding/json"
	"net/http"

	"github.com/connexus-ai/ragsupport-gateway/internal/classify"
)

// ClassifyRequest is the body of POST /api/classify-query.
type ClassifyRequest struct {
	Query string `json:"query"`
}

// ClassifyResponse mirrors classify.Result for the wire.
type ClassifyResponse struct {
	Category    string  `json:"category"`
	Confidence  float64 `json:"confidence"`
	Complexity  string  `json:"complexity"`
	Strategy    string  `json:"strategy"`
	Threshold   float64 `json:"threshold"`
	ChunkTarget int     `json:"chunkTarget"`
	PreferWeb   bool    `json:"preferWeb"`
}

// ClassifyQuery returns the classifier's verdict for a query with no
// retrieval or generation performed.
// POST /api/classify-query
func ClassifyQuery(w http.ResponseWriter, r *http.Request) {
	var req ClassifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		respondError(w, http.StatusUnprocessableEntity, ErrCodeValidation, "query is required")
		return
	}

	cls := classify.Classify(req.Query)
	respondOK(w, ClassifyResponse{
		Category:    string(cls.Category),
		Confidence:  cls.Confidence,
		Complexity:  string(cls.Complexity),
		Strategy:    string(cls.Strategy),
		Threshold:   cls.Threshold,
		ChunkTarget: cls.ChunkTarget,
		PreferWeb:   cls.PreferWeb,
	})
}
