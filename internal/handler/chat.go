package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/connexus-ai/ragsupport-gateway/internal/classify"
	"github.com/connexus-ai/ragsupport-gateway/internal/confidence"
	"github.com/connexus-ai/ragsupport-gateway/internal/correction"
	"github.com/connexus-ai/ragsupport-gateway/internal/generate"
	"github.com/connexus-ai/ragsupport-gateway/internal/middleware"
	"github.com/connexus-ai/ragsupport-gateway/internal/model"
	"github.com/connexus-ai/ragsupport-gateway/internal/promptcompose"
	"github.com/connexus-ai/ragsupport-gateway/internal/retrieval"
)

// requestTimeout is the per-request wall-clock budget; retrieval and
// generation sub-stages carry their own, shorter budgets.
const requestTimeout = 60 * time.Second
const retrievalTimeout = 10 * time.Second

// ChatRequest is the body of POST /api/rag-chat and the structured search
// endpoints. EnableWebSearch and ConfidenceThreshold are optional knobs;
// zero values fall back to server-side defaults.
type ChatRequest struct {
	Query               string  `json:"query"`
	EnableWebSearch     bool    `json:"enableWebSearch"`
	ConfidenceThreshold float64 `json:"confidenceThreshold"`
	ForceFusion         bool    `json:"-"` // set internally by FusedHybridSearch
}

// CorrectionLookup resolves an operator-curated answer override.
type CorrectionLookup interface {
	Lookup(ctx context.Context, fingerprint string) (*model.Correction, bool, error)
}

// Retriever is the Hybrid Retriever contract, e.g. *retrieval.Retriever.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int, privacy model.PrivacyFilter, enableWeb bool, cls classify.Result) (*retrieval.Result, error)
}

// Composer builds the generation prompt from fused retrieval context.
type Composer interface {
	Compose(query string, fused []retrieval.FusedItem) promptcompose.Result
}

// Generator is the Generation Orchestrator contract, e.g. *generate.Orchestrator.
type Generator interface {
	Generate(ctx context.Context, prompt string, category classify.Category, opts generate.Options, onToken generate.OnToken) (*generate.Result, error)
}

// AnalyticsRecorder buffers SearchEvent writes off the request path.
type AnalyticsRecorder interface {
	Record(event model.SearchEvent)
}

// ChatMetrics is the subset of middleware.Metrics the chat handler drives.
type ChatMetrics interface {
	IncrementSilenceTrigger()
	IncrementContextTruncated()
}

// ChatDeps wires the full rag-chat pipeline: corrections short-circuit,
// classify, retrieve, compose, generate, score, record.
type ChatDeps struct {
	Corrections CorrectionLookup // may be nil to disable the corrections path
	Retriever   Retriever
	Composer    Composer
	Generator   Generator
	Analytics   AnalyticsRecorder
	Metrics     ChatMetrics
	TopK        int // maximum chunks Retrieve returns; 0 uses defaultTopK
}

const defaultTopK = 10

// Chat returns an SSE streaming handler for the RAG chat pipeline.
// POST /api/rag-chat
func Chat(deps ChatDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
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

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()

		runChatPipeline(ctx, w, flusher, deps, userID, req)
	}
}

func runChatPipeline(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, deps ChatDeps, userID string, req ChatRequest) {
	start := time.Now()
	topK := deps.TopK
	if topK <= 0 {
		topK = defaultTopK
	}

	// Corrections path: kept deliberately first, short-circuits retrieval
	// and generation entirely and records a dedicated method value.
	if deps.Corrections != nil {
		fingerprint := correction.Fingerprint(req.Query)
		if c, found, err := deps.Corrections.Lookup(ctx, fingerprint); err != nil {
			slog.Warn("chat_correction_lookup_failed", "error", err)
		} else if found {
			messageID := newMessageID()
			sendSSE(w, flusher, sseFrame{Type: "sources", Sources: []string{}, Confidence: confidence.FixedCorrectionScore, Method: string(model.MethodCorrection)})
			sendSSE(w, flusher, sseFrame{Type: "token", Token: c.CorrectedAnswer})
			sendSSE(w, flusher, sseFrame{Type: "done", MessageID: messageID})
			recordEvent(deps.Analytics, userID, req.Query, model.MethodCorrection, classify.Result{}, confidence.FixedCorrectionScore, confidence.FixedCorrectionScore, start, 0, 0, 0, "", nil)
			return
		}
	}

	cls := classify.Classify(req.Query)

	retrieveCtx, retrieveCancel := context.WithTimeout(ctx, retrievalTimeout)
	result, err := deps.Retriever.Retrieve(retrieveCtx, req.Query, topK, model.PrivacyFilterPublic, req.EnableWebSearch, cls)
	retrieveCancel()
	if err != nil {
		sendSSE(w, flusher, sseFrame{Type: "error", Code: ErrCodeInternal, Message: "retrieval failed"})
		recordEvent(deps.Analytics, userID, req.Query, method(cls, false, false), cls, 0, 0, start, 0, 0, 0, "", errString(err))
		return
	}

	sources := make([]string, 0, len(result.Fused))
	for _, item := range result.Fused {
		sources = append(sources, item.Source)
	}
	searchMethod := method(cls, len(result.Chunks) > 0, result.WebConsulted)
	sendSSE(w, flusher, sseFrame{Type: "sources", Sources: sources, Confidence: result.TopScore, Method: string(searchMethod)})

	composed := deps.Composer.Compose(req.Query, result.Fused)
	if composed.ContextTruncated && deps.Metrics != nil {
		deps.Metrics.IncrementContextTruncated()
	}

	var answer string
	genResult, genErr := deps.Generator.Generate(ctx, composed.Prompt, cls.Category, generate.Options{}, func(token string) {
		answer += token
		sendSSE(w, flusher, sseFrame{Type: "token", Token: token})
	})
	if genErr != nil {
		sendSSE(w, flusher, sseFrame{Type: "error", Code: ErrCodeBackendUnavailable, Message: "generation failed"})
		recordEvent(deps.Analytics, userID, req.Query, searchMethod, cls, result.TopScore, 0, start, len(result.Chunks), len(result.WebResults), len(result.Fused), "", errString(genErr))
		return
	}

	confChunks := make([]confidence.Chunk, 0, len(result.Chunks))
	for _, rc := range result.Chunks {
		confChunks = append(confChunks, confidence.Chunk{Content: rc.Candidate.Content, DocName: rc.Candidate.DocName})
	}
	finalScore := confidence.Score(req.Query, confChunks, answer, cls)
	threshold := cls.Threshold
	if req.ConfidenceThreshold > 0 {
		threshold = req.ConfidenceThreshold
	}
	if finalScore < threshold && deps.Metrics != nil {
		deps.Metrics.IncrementSilenceTrigger()
	}

	messageID := newMessageID()
	sendSSE(w, flusher, sseFrame{Type: "done", MessageID: messageID})

	recordEvent(deps.Analytics, userID, req.Query, searchMethod, cls, result.TopScore, finalScore, start,
		len(result.Chunks), len(result.WebResults), len(result.Fused), genResult.Backend, nil)
}

func method(cls classify.Result, hasChunks, webConsulted bool) model.SearchMethod {
	switch {
	case hasChunks && webConsulted:
		return model.MethodFusion
	case hasChunks:
		return model.MethodRAG
	case webConsulted:
		return model.MethodWeb
	default:
		return model.MethodHybrid
	}
}

func recordEvent(rec AnalyticsRecorder, userID, query string, searchMethod model.SearchMethod, cls classify.Result,
	ragConfidence, finalConfidence float64, start time.Time, chunkCount, webCount, fusedCount int, modelName string, errMsg *string) {
	if rec == nil {
		return
	}
	rec.Record(model.SearchEvent{
		ID:              newMessageID(),
		Ts:              start,
		UserID:          userID,
		Query:           query,
		Method:          searchMethod,
		Classification:  string(cls.Category),
		Strategy:        string(cls.Strategy),
		RAGConfidence:   ragConfidence,
		FinalConfidence: finalConfidence,
		LatencyMs:       time.Since(start).Milliseconds(),
		ChunkCount:      chunkCount,
		WebCount:        webCount,
		FusedCount:      fusedCount,
		Model:           modelName,
		Error:           errMsg,
	})
}

func errString(err error) *string {
	if err == nil {
		return nil
	}
	s := err.Error()
	return &s
}

type sseFrame struct {
	Type       string   `json:"type"`
	Sources    []string `json:"sources,omitempty"`
	Confidence float64  `json:"confidence,omitempty"`
	Method     string   `json:"method,omitempty"`
	Token      string   `json:"token,omitempty"`
	MessageID  string   `json:"messageId,omitempty"`
	Code       string   `json:"code,omitempty"`
	Message    string   `json:"message,omitempty"`
}

func sendSSE(w http.ResponseWriter, f http.Flusher, frame sseFrame) {
	b, err := json.Marshal(frame)
	if err != nil {
		slog.Error("chat_sse_marshal_failed", "error", err)
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", b)
	f.Flush()
}

func newMessageID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return hex.EncodeToString([]byte(time.Now().String()))
	}
	return hex.EncodeToString(buf)
}
