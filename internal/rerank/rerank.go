// Package rerank scores candidate passages against a query using a
// cross-encoder-style model invoked through the Backend Pool.
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/connexus-ai/ragsupport-gateway/internal/backendpool"
	"github.com/connexus-ai/ragsupport-gateway/internal/model"
)

// passageTokenBudget bounds each passage's contribution to the scoring
// prompt, approximated in words since backend tokenizers are opaque here.
const passageTokenBudget = 400

// requestTimeout bounds a single rerank call.
const requestTimeout = 10 * time.Second

// Reranker scores passages via the backend pool's embeddings_search
// specialization, the closest existing category to a cross-encoder task.
type Reranker struct {
	pool       *backendpool.Pool
	httpClient *http.Client
}

// New creates a Reranker over an existing backend pool.
func New(pool *backendpool.Pool) *Reranker {
	return &Reranker{
		pool:       pool,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

type scoreRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
	Format string `json:"format"`
}

type scoreResponse struct {
	Response string `json:"response"`
}

type parsedScores struct {
	Scores []float64 `json:"scores"`
}

// Score returns one relevance score per passage, aligned to input order,
// where higher means more relevant. On any failure the caller must fall
// back to its own combined score and log rerank_skipped — Score never
// partially fills the result.
func (r *Reranker) Score(ctx context.Context, query string, passages []string) ([]float64, error) {
	if len(passages) == 0 {
		return nil, nil
	}

	backend, err := r.pool.Pick(model.SpecEmbeddingsSearch)
	if err != nil {
		return nil, fmt.Errorf("rerank.Score: %w", err)
	}

	prompt := buildScoringPrompt(query, passages)
	reqBody := scoreRequest{
		Model:  backend.Model(),
		Prompt: prompt,
		Stream: false,
		Format: "json",
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("rerank.Score: marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, backend.URL()+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("rerank.Score: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	backend.IncrInFlight()
	defer backend.DecrInFlight()

	start := time.Now()
	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		backend.ReportFailure()
		return nil, fmt.Errorf("rerank.Score: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		backend.ReportFailure()
		return nil, fmt.Errorf("rerank.Score: backend returned status %d", resp.StatusCode)
	}

	var envelope scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("rerank.Score: decode envelope: %w", err)
	}

	var parsed parsedScores
	if err := json.Unmarshal([]byte(envelope.Response), &parsed); err != nil {
		return nil, fmt.Errorf("rerank.Score: decode scores: %w", err)
	}
	if len(parsed.Scores) != len(passages) {
		return nil, fmt.Errorf("rerank.Score: backend returned %d scores for %d passages", len(parsed.Scores), len(passages))
	}

	backend.ReportSuccess(time.Since(start))
	return parsed.Scores, nil
}

func buildScoringPrompt(query string, passages []string) string {
	var sb strings.Builder
	sb.WriteString("Score each passage's relevance to the query on a scale from 0 to 1.\n")
	sb.WriteString("Respond with JSON only: {\"scores\": [number, ...]} in the same order as the passages.\n\n")
	sb.WriteString("Query: ")
	sb.WriteString(query)
	sb.WriteString("\n\n")
	for i, p := range passages {
		fmt.Fprintf(&sb, "Passage %d: %s\n\n", i+1, truncate(p, passageTokenBudget))
	}
	return sb.String()
}

// truncate bounds a passage to approximately maxWords words.
func truncate(text string, maxWords int) string {
	words := strings.Fields(text)
	if len(words) <= maxWords {
		return text
	}
	return strings.Join(words[:maxWords], " ") + " ..."
}
