// Package embed computes query embeddings via the Backend Pool's
// designated embedding instance, memoized through an L2 Redis cache so
// repeated queries across API instances skip the backend round trip.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/connexus-ai/ragsupport-gateway/internal/backendpool"
)

// embeddingDimensions is the expected vector width for the configured
// embedding model (nomic-embed-text and comparable Ollama models).
const embeddingDimensions = 768

// Embedder computes and caches query embeddings.
type Embedder struct {
	pool       *backendpool.Pool
	httpClient *http.Client
	cache      *RedisCache
	timeout    time.Duration
}

// New creates an Embedder. cache may be nil to disable memoization.
func New(pool *backendpool.Pool, cache *RedisCache, timeout time.Duration) *Embedder {
	return &Embedder{
		pool:       pool,
		httpClient: &http.Client{Timeout: timeout},
		cache:      cache,
		timeout:    timeout,
	}
}

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Embed returns an L2-normalized embedding for query, consulting the Redis
// cache first. A cache read or write failure is logged by RedisCache and
// never fails the embed call — only the backend request can do that.
func (e *Embedder) Embed(ctx context.Context, query string) ([]float32, error) {
	hash := QueryHash(query)

	if e.cache != nil {
		if vec, ok := e.cache.Get(ctx, hash); ok {
			return vec, nil
		}
	}

	backend, err := e.pool.EmbeddingBackend()
	if err != nil {
		return nil, fmt.Errorf("embed.Embed: %w", err)
	}

	reqBody, err := json.Marshal(embedRequest{Model: backend.Model(), Prompt: query})
	if err != nil {
		return nil, fmt.Errorf("embed.Embed: marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, backend.URL()+"/api/embeddings", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("embed.Embed: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	backend.IncrInFlight()
	defer backend.DecrInFlight()

	start := time.Now()
	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		backend.ReportFailure()
		return nil, fmt.Errorf("embed.Embed: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		backend.ReportFailure()
		return nil, fmt.Errorf("embed.Embed: backend returned status %d", resp.StatusCode)
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("embed.Embed: decode response: %w", err)
	}
	if len(parsed.Embedding) != embeddingDimensions {
		return nil, fmt.Errorf("embed.Embed: got %d-dim vector, want %d", len(parsed.Embedding), embeddingDimensions)
	}
	backend.ReportSuccess(time.Since(start))

	vec := l2Normalize(parsed.Embedding)

	if e.cache != nil {
		e.cache.Set(ctx, hash, vec)
	}

	return vec, nil
}

func l2Normalize(vec []float64) []float32 {
	var sumSq float64
	for _, v := range vec {
		sumSq += v * v
	}
	norm := math.Sqrt(sumSq)
	out := make([]float32, len(vec))
	if norm == 0 {
		for i, v := range vec {
			out[i] = float32(v)
		}
		return out
	}
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out
}
