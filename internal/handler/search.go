package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/connexus-ai/ragsupport-gateway/internal/classify"
	"github.com/connexus-ai/ragsupport-gateway/internal/confidence"
	"github.com/connexus-ai/ragsupport-gateway/internal/generate"
	"github.com/connexus-ai/ragsupport-gateway/internal/middleware"
	"github.com/connexus-ai/ragsupport-gateway/internal/model"
)

// SearchResponse is the structured (non-streaming) answer returned by the
// search family of endpoints.
type SearchResponse struct {
	Answer     string   `json:"answer"`
	Sources    []string `json:"sources"`
	Confidence float64  `json:"confidence"`
	Method     string   `json:"method"`
	Category   string   `json:"category"`
}

// searchMode controls whether web augmentation is forced on regardless of
// the classifier's own preference.
type searchMode int

const (
	modeHybrid searchMode = iota
	modeFusedHybrid
	modeIntelligentHybrid
)

// HybridSearch answers a query with document retrieval, optionally
// augmented with web search when the caller opts in.
// POST /api/hybrid-search
func HybridSearch(deps ChatDeps) http.HandlerFunc {
	return searchHandler(deps, modeHybrid)
}

// FusedHybridSearch always fuses document and web results regardless of the
// classifier's preference, useful for callers that always want both.
// POST /api/fused-hybrid-search
func FusedHybridSearch(deps ChatDeps) http.HandlerFunc {
	return searchHandler(deps, modeFusedHybrid)
}

// IntelligentHybridSearch lets the classifier decide whether web search is
// warranted, same strategy selection the rag-chat pipeline uses.
// POST /api/intelligent-hybrid-search
func IntelligentHybridSearch(deps ChatDeps) http.HandlerFunc {
	return searchHandler(deps, modeIntelligentHybrid)
}

func searchHandler(deps ChatDeps, mode searchMode) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		userID := middleware.UserIDFromContext(r.Context())
		if userID == "" {
			respondError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication required")
			return
		}

		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
			return
		}
		if req.Query == "" {
			respondError(w, http.StatusUnprocessableEntity, ErrCodeValidation, "query is required")
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()

		cls := classify.Classify(req.Query)

		enableWeb := req.EnableWebSearch
		switch mode {
		case modeFusedHybrid:
			enableWeb = true
		case modeIntelligentHybrid:
			enableWeb = enableWeb || cls.PreferWeb
		}

		retrieveCtx, retrieveCancel := context.WithTimeout(ctx, retrievalTimeout)
		result, err := deps.Retriever.Retrieve(retrieveCtx, req.Query, defaultTopKOrConfigured(deps.TopK), model.PrivacyFilterPublic, enableWeb, cls)
		retrieveCancel()
		if err != nil {
			respondError(w, http.StatusInternalServerError, ErrCodeInternal, "retrieval failed")
			return
		}

		composed := deps.Composer.Compose(req.Query, result.Fused)
		if composed.ContextTruncated && deps.Metrics != nil {
			deps.Metrics.IncrementContextTruncated()
		}

		genResult, genErr := deps.Generator.Generate(ctx, composed.Prompt, cls.Category, generate.Options{}, func(string) {})
		if genErr != nil {
			respondError(w, http.StatusServiceUnavailable, ErrCodeBackendUnavailable, "generation failed")
			return
		}

		confChunks := make([]confidence.Chunk, 0, len(result.Chunks))
		for _, rc := range result.Chunks {
			confChunks = append(confChunks, confidence.Chunk{Content: rc.Candidate.Content, DocName: rc.Candidate.DocName})
		}
		finalScore := confidence.Score(req.Query, confChunks, genResult.Text, cls)
		threshold := cls.Threshold
		if req.ConfidenceThreshold > 0 {
			threshold = req.ConfidenceThreshold
		}
		if finalScore < threshold && deps.Metrics != nil {
			deps.Metrics.IncrementSilenceTrigger()
		}

		searchMethod := method(cls, len(result.Chunks) > 0, result.WebConsulted)
		sources := make([]string, 0, len(result.Fused))
		for _, item := range result.Fused {
			sources = append(sources, item.Source)
		}

		recordEvent(deps.Analytics, userID, req.Query, searchMethod, cls, result.TopScore, finalScore,
			start, len(result.Chunks), len(result.WebResults), len(result.Fused), genResult.Backend, nil)

		respondOK(w, SearchResponse{
			Answer:     genResult.Text,
			Sources:    sources,
			Confidence: finalScore,
			Method:     string(searchMethod),
			Category:   string(cls.Category),
		})
	}
}

func defaultTopKOrConfigured(topK int) int {
	if topK <= 0 {
		return defaultTopK
	}
	return topK
}
