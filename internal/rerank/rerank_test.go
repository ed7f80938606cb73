package rerank

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/connexus-ai/ragsupport-gateway/internal/backendpool"
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

func TestScore_ParsesBackendResponse(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"response": `{"scores":[0.9,0.2]}`,
		})
	}
	pool, cleanup := poolWithStub(t, handler)
	defer cleanup()

	r := New(pool)
	scores, err := r.Score(context.Background(), "query", []string{"passage one", "passage two"})
	if err != nil {
		t.Fatalf("Score() error: %v", err)
	}
	if len(scores) != 2 || scores[0] != 0.9 || scores[1] != 0.2 {
		t.Errorf("scores = %v, want [0.9 0.2]", scores)
	}
}

func TestScore_EmptyPassagesReturnsNil(t *testing.T) {
	pool, cleanup := poolWithStub(t, func(w http.ResponseWriter, r *http.Request) {})
	defer cleanup()

	r := New(pool)
	scores, err := r.Score(context.Background(), "q", nil)
	if err != nil {
		t.Fatalf("Score() error: %v", err)
	}
	if scores != nil {
		t.Errorf("scores = %v, want nil", scores)
	}
}

func TestScore_MismatchedScoreCountErrors(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"response": `{"scores":[0.9]}`,
		})
	}
	pool, cleanup := poolWithStub(t, handler)
	defer cleanup()

	r := New(pool)
	_, err := r.Score(context.Background(), "q", []string{"one", "two"})
	if err == nil {
		t.Fatal("expected error on score/passage count mismatch")
	}
}

func TestScore_BackendErrorPropagates(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}
	pool, cleanup := poolWithStub(t, handler)
	defer cleanup()

	r := New(pool)
	_, err := r.Score(context.Background(), "q", []string{"one"})
	if err == nil {
		t.Fatal("expected error on backend 500")
	}
}

func TestTruncate_BoundsWordCount(t *testing.T) {
	long := ""
	for i := 0; i < 1000; i++ {
		long += "word "
	}
	out := truncate(long, 10)
	if len(out) >= len(long) {
		t.Error("expected truncated text to be shorter than the input")
	}
}
