package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHybridSearch_Success(t *testing.T) {
	deps := ChatDeps{
		Retriever: &fakeRetriever{result: testRetrievalResult()},
		Composer:  &fakeComposer{},
		Generator: &fakeGenerator{tokens: []string{"answer"}},
		Analytics: &fakeRecorder{},
	}

	handler := HybridSearch(deps)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, chatRequest(ChatRequest{Query: "why is the queue stuck"}))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}

	var body map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &body)
	data := body["data"].(map[string]interface{})
	if data["answer"] != "answer" {
		t.Errorf("answer = %v, want %q", data["answer"], "answer")
	}
}

func TestHybridSearch_RequiresAuth(t *testing.T) {
	handler := HybridSearch(ChatDeps{})
	body, _ := json.Marshal(ChatRequest{Query: "test"})
	req := httptest.NewRequest(http.MethodPost, "/api/hybrid-search", bytes.NewReader(body))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestHybridSearch_EmptyQuery(t *testing.T) {
	handler := HybridSearch(ChatDeps{})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, chatRequest(ChatRequest{Query: ""}))

	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", w.Code)
	}
}

func TestHybridSearch_RetrievalError(t *testing.T) {
	deps := ChatDeps{
		Retriever: &fakeRetriever{err: fmt.Errorf("backend down")},
		Analytics: &fakeRecorder{},
	}
	handler := HybridSearch(deps)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, chatRequest(ChatRequest{Query: "test"}))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestFusedHybridSearch_Success(t *testing.T) {
	deps := ChatDeps{
		Retriever: &fakeRetriever{result: testRetrievalResult()},
		Composer:  &fakeComposer{},
		Generator: &fakeGenerator{tokens: []string{"fused answer"}},
		Analytics: &fakeRecorder{},
	}

	handler := FusedHybridSearch(deps)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, chatRequest(ChatRequest{Query: "test"}))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}
}

func TestIntelligentHybridSearch_Success(t *testing.T) {
	deps := ChatDeps{
		Retriever: &fakeRetriever{result: testRetrievalResult()},
		Composer:  &fakeComposer{},
		Generator: &fakeGenerator{tokens: []string{"routed answer"}},
		Analytics: &fakeRecorder{},
	}

	handler := IntelligentHybridSearch(deps)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, chatRequest(ChatRequest{Query: "test"}))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}
}

func TestSearchHandler_GenerationError(t *testing.T) {
	deps := ChatDeps{
		Retriever: &fakeRetriever{result: testRetrievalResult()},
		Composer:  &fakeComposer{},
		Generator: &fakeGenerator{err: fmt.Errorf("backend unavailable")},
		Analytics: &fakeRecorder{},
	}
	handler := HybridSearch(deps)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, chatRequest(ChatRequest{Query: "test"}))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}
