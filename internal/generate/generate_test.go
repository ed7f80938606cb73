package generate

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/connexus-ai/ragsupport-gateway/internal/backendpool"
	"github.com/connexus-ai/ragsupport-gateway/internal/classify"
	"github.com/connexus-ai/ragsupport-gateway/internal/config"
)

func poolWithStub(t *testing.T, handler http.HandlerFunc) (*backendpool.Pool, func()) {
	t.Helper()
	srv := httptest.NewServer(handler)
	cfg := &config.Config{
		OllamaInstances: []config.BackendSpec{
			{Name: "a", URL: srv.URL}, {Name: "b", URL: srv.URL},
			{Name: "c", URL: srv.URL}, {Name: "d", URL: srv.URL},
		},
		ChatModel: "llama3", CodingModel: "codellama",
		ReasoningModel: "llama3:70b", EmbeddingModel: "nomic-embed-text",
	}
	p := backendpool.New(cfg)
	return p, srv.Close
}

func streamHandler(frames []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		for _, f := range frames {
			fmt.Fprintln(w, f)
		}
	}
}

func TestGenerate_StreamsTokensAndCapturesCounts(t *testing.T) {
	pool, cleanup := poolWithStub(t, streamHandler([]string{
		`{"response":"Hello","done":false}`,
		`{"response":" world","done":false}`,
		`{"response":"","done":true,"prompt_eval_count":10,"eval_count":2}`,
	}))
	defer cleanup()

	o := New(pool)
	var tokens []string
	result, err := o.Generate(context.Background(), "prompt", classify.CategoryChat, Options{}, func(tok string) {
		tokens = append(tokens, tok)
	})
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if strings.Join(tokens, "") != "Hello world" {
		t.Errorf("tokens = %v, want [Hello, ' world']", tokens)
	}
	if result.Text != "Hello world" {
		t.Errorf("Text = %q, want %q", result.Text, "Hello world")
	}
	if result.InputTokens != 10 || result.OutputTokens != 2 {
		t.Errorf("token counts = %d/%d, want 10/2", result.InputTokens, result.OutputTokens)
	}
	if result.Backend == "" {
		t.Error("expected a backend name on the result")
	}
}

func TestGenerate_ConnectionFailureBeforeAnyTokenRetriesOnDifferentBackend(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()
	healthy := httptest.NewServer(streamHandler([]string{
		`{"response":"ok","done":false}`,
		`{"response":"","done":true,"prompt_eval_count":1,"eval_count":1}`,
	}))
	defer healthy.Close()

	cfg := &config.Config{
		OllamaInstances: []config.BackendSpec{
			{Name: "bad", URL: failing.URL}, {Name: "good", URL: healthy.URL},
			{Name: "c", URL: healthy.URL}, {Name: "d", URL: healthy.URL},
		},
		ChatModel: "llama3", CodingModel: "codellama",
		ReasoningModel: "llama3:70b", EmbeddingModel: "nomic-embed-text",
	}
	pool := backendpool.New(cfg)

	o := New(pool)
	result, err := o.Generate(context.Background(), "prompt", classify.CategoryChat, Options{}, func(string) {})
	if err != nil {
		t.Fatalf("expected retry to succeed, got error: %v", err)
	}
	if result.Text != "ok" {
		t.Errorf("Text = %q, want %q", result.Text, "ok")
	}
}

func TestGenerate_FailureAfterFirstTokenDoesNotRetry(t *testing.T) {
	hj := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"response":"partial","done":false}`)
		if flusher, ok := w.(http.Flusher); ok {
			flusher.Flush()
		}
		hijacker, ok := w.(http.Hijacker)
		if !ok {
			return
		}
		conn, _, err := hijacker.Hijack()
		if err == nil {
			conn.Close()
		}
	}))
	defer hj.Close()

	cfg := &config.Config{
		OllamaInstances: []config.BackendSpec{
			{Name: "a", URL: hj.URL}, {Name: "b", URL: hj.URL},
			{Name: "c", URL: hj.URL}, {Name: "d", URL: hj.URL},
		},
		ChatModel: "llama3", CodingModel: "codellama",
		ReasoningModel: "llama3:70b", EmbeddingModel: "nomic-embed-text",
	}
	pool := backendpool.New(cfg)

	o := New(pool)
	var gotToken bool
	_, err := o.Generate(context.Background(), "prompt", classify.CategoryChat, Options{}, func(string) {
		gotToken = true
	})
	if err == nil {
		t.Fatal("expected an error after a mid-stream disconnect")
	}
	if !gotToken {
		t.Fatal("expected at least one token to have been delivered before the failure")
	}
}

func TestSpecializationFor_MapsKnownCategories(t *testing.T) {
	tests := []struct {
		category classify.Category
	}{
		{classify.CategoryCode}, {classify.CategoryMath}, {classify.CategoryChat},
	}
	for _, tc := range tests {
		if spec := SpecializationFor(tc.category); spec == "" {
			t.Errorf("SpecializationFor(%v) returned empty", tc.category)
		}
	}
}

func TestGenerate_TimeoutIsConfigurable(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		fmt.Fprintln(w, `{"response":"late","done":true,"eval_count":1}`)
	}))
	defer slow.Close()

	cfg := &config.Config{
		OllamaInstances: []config.BackendSpec{
			{Name: "a", URL: slow.URL}, {Name: "b", URL: slow.URL},
			{Name: "c", URL: slow.URL}, {Name: "d", URL: slow.URL},
		},
		ChatModel: "llama3", CodingModel: "codellama",
		ReasoningModel: "llama3:70b", EmbeddingModel: "nomic-embed-text",
	}
	pool := backendpool.New(cfg)

	o := New(pool)
	_, err := o.Generate(context.Background(), "prompt", classify.CategoryChat, Options{Timeout: 1 * time.Millisecond}, func(string) {})
	if err == nil {
		t.Fatal("expected timeout error with a 1ms deadline against a 50ms-slow backend")
	}
}
