// Package generate implements the Generation Orchestrator: it picks a
// backend for a classified query, streams the model's response token by
// token, and reports token counts, latency, and which backend served the
// request.
package generate

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/connexus-ai/ragsupport-gateway/internal/backendpool"
	"github.com/connexus-ai/ragsupport-gateway/internal/classify"
	"github.com/connexus-ai/ragsupport-gateway/internal/model"
)

const defaultTimeout = 30 * time.Second

// specializationByCategory maps a classifier category to the backend
// specialization best suited to serve it. Categories without an exact match
// fall back to chat_qa, the general-purpose specialization.
var specializationByCategory = map[classify.Category]model.Specialization{
	classify.CategoryTechnical:     model.SpecChatQA,
	classify.CategoryCode:          model.SpecCodeTechnical,
	classify.CategoryMath:          model.SpecReasoningMath,
	classify.CategoryCreative:      model.SpecChatQA,
	classify.CategoryFactual:       model.SpecChatQA,
	classify.CategoryChat:          model.SpecChatQA,
	classify.CategoryCurrentEvents: model.SpecChatQA,
	classify.CategoryComparison:    model.SpecReasoningMath,
}

// SpecializationFor returns the backend specialization to use for a
// classified category.
func SpecializationFor(category classify.Category) model.Specialization {
	if spec, ok := specializationByCategory[category]; ok {
		return spec
	}
	return model.SpecChatQA
}

// Options configures a single generation call.
type Options struct {
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration // 0 uses defaultTimeout
}

// Result is the outcome of a generation call.
type Result struct {
	Text             string
	InputTokens      int
	OutputTokens     int
	Latency          time.Duration
	TokensPerSecond  float64
	Backend          string
	PartialOnFailure bool // true if the client received tokens before the error
}

// OnToken is invoked once per streamed token/delta, in order.
type OnToken func(token string)

// Orchestrator drives backend selection and streamed generation.
type Orchestrator struct {
	pool       *backendpool.Pool
	httpClient *http.Client
}

// New creates an Orchestrator backed by the given pool.
func New(pool *backendpool.Pool) *Orchestrator {
	return &Orchestrator{
		pool:       pool,
		httpClient: &http.Client{Timeout: 0}, // streaming: bounded by ctx, not a fixed client timeout
	}
}

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options generateOptions `json:"options,omitempty"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

// generateFrame is a single line of Ollama's /api/generate streaming
// response: either a partial token (done=false) or the terminal summary
// frame (done=true) carrying token counts.
type generateFrame struct {
	Response  string `json:"response"`
	Done      bool   `json:"done"`
	PromptEvalCount int `json:"prompt_eval_count"`
	EvalCount       int `json:"eval_count"`
}

// Generate runs the full generate(prompt, category, options, on_token)
// contract: picks a backend, streams the response calling onToken per
// frame, and retries once on a different healthy backend if the connection
// fails before any token was delivered.
func (o *Orchestrator) Generate(ctx context.Context, prompt string, category classify.Category, opts Options, onToken OnToken) (*Result, error) {
	spec := SpecializationFor(category)

	backend, err := o.pool.Pick(spec)
	if err != nil {
		return nil, fmt.Errorf("generate: pick backend: %w", err)
	}

	result, tokensDelivered, err := o.attempt(ctx, backend, prompt, opts, onToken)
	if err == nil {
		return result, nil
	}
	if tokensDelivered {
		// Failure after first token: do not retry, the client already has a
		// partial answer and a retry would duplicate or desync it.
		return &Result{Backend: backend.Name(), PartialOnFailure: true}, fmt.Errorf("generate: stream failed after first token: %w", err)
	}

	slog.Warn("generate_retry", "backend", backend.Name(), "error", err)
	retryBackend, retryErr := o.pool.PickExcluding(spec, backend.Name())
	if retryErr != nil {
		return nil, fmt.Errorf("generate: no healthy backend after retry: %w", err)
	}

	result, _, err = o.attempt(ctx, retryBackend, prompt, opts, onToken)
	if err != nil {
		return nil, fmt.Errorf("generate: retry failed: %w", err)
	}
	return result, nil
}

// attempt runs a single streamed generation call against one backend. It
// returns whether any token reached onToken before a failure, so the caller
// can decide whether a retry is safe.
func (o *Orchestrator) attempt(ctx context.Context, backend backendpool.Backend, prompt string, opts Options, onToken OnToken) (*Result, bool, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reqBody := generateRequest{
		Model:  backend.Model(),
		Prompt: prompt,
		Stream: true,
		Options: generateOptions{
			Temperature: opts.Temperature,
			NumPredict:  opts.MaxTokens,
		},
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, false, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, backend.URL()+"/api/generate", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, false, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	backend.IncrInFlight()
	defer backend.DecrInFlight()

	start := time.Now()
	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		backend.ReportFailure()
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, false, fmt.Errorf("request cancelled: %w", ctx.Err())
		}
		return nil, false, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		backend.ReportFailure()
		return nil, false, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var (
		textDelivered bool
		promptEval    int
		evalCount     int
		text          string
	)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		if ctx.Err() != nil {
			backend.ReportFailure()
			return nil, textDelivered, fmt.Errorf("context cancelled mid-stream: %w", ctx.Err())
		}

		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		var frame generateFrame
		if err := json.Unmarshal(line, &frame); err != nil {
			continue // skip malformed frames
		}

		if frame.Response != "" {
			text += frame.Response
			textDelivered = true
			onToken(frame.Response)
		}
		if frame.Done {
			promptEval = frame.PromptEvalCount
			evalCount = frame.EvalCount
			break
		}
	}
	if err := scanner.Err(); err != nil {
		backend.ReportFailure()
		return nil, textDelivered, fmt.Errorf("read error: %w", err)
	}

	elapsed := time.Since(start)
	backend.ReportSuccess(elapsed)

	tps := 0.0
	if elapsed.Seconds() > 0 {
		tps = float64(evalCount) / elapsed.Seconds()
	}

	return &Result{
		Text:            text,
		InputTokens:     promptEval,
		OutputTokens:    evalCount,
		Latency:         elapsed,
		TokensPerSecond: tps,
		Backend:         backend.Name(),
	}, textDelivered, nil
}
