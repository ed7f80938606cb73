package router

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/connexus-ai/ragsupport-gateway/internal/handler"
	"github.com/connexus-ai/ragsupport-gateway/internal/model"
	"github.com/connexus-ai/ragsupport-gateway/internal/repository"
)

type mockDB struct {
	err error
}

func (m *mockDB) Ping(ctx context.Context) error { return m.err }

type mockVerifier struct {
	uid string
	err error
}

func (m *mockVerifier) VerifyAccessToken(raw string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return m.uid, nil
}

type mockPermissions struct {
	allow bool
}

func (m *mockPermissions) HasPermission(ctx context.Context, userID, permission string) (bool, error) {
	return m.allow, nil
}

type mockPasswordChange struct {
	required bool
}

func (m *mockPasswordChange) PasswordChangeRequired(ctx context.Context, userID string) (bool, error) {
	return m.required, nil
}

type mockDocumentStore struct{}

func (m *mockDocumentStore) GetByID(ctx context.Context, id string, privacy model.PrivacyFilter) (*model.Document, error) {
	return nil, repository.ErrDocumentNotFound
}
func (m *mockDocumentStore) List(ctx context.Context, opts repository.DocumentListOpts) ([]model.Document, int, error) {
	return []model.Document{}, 0, nil
}
func (m *mockDocumentStore) ChunkSummaries(ctx context.Context, documentID string) ([]repository.ChunkSummary, error) {
	return nil, nil
}
func (m *mockDocumentStore) Delete(ctx context.Context, id string) error { return nil }

type mockAnalyticsSource struct{}

func (m *mockAnalyticsSource) Summary(ctx context.Context, windowHours int) (*model.AnalyticsSummary, error) {
	return &model.AnalyticsSummary{}, nil
}
func (m *mockAnalyticsSource) Recent(ctx context.Context, limit int) ([]model.SearchEvent, error) {
	return nil, nil
}

func newTestDeps(verifierErr error) *Dependencies {
	return &Dependencies{
		DB:             &mockDB{},
		FrontendURL:    "http://localhost:3000",
		Version:        "0.1.0",
		Verifier:       &mockVerifier{uid: "test-user", err: verifierErr},
		Permissions:    &mockPermissions{allow: true},
		PasswordChange: &mockPasswordChange{required: false},
		Documents: handler.DocumentsDeps{
			Documents:   &mockDocumentStore{},
			Permissions: &mockPermissions{allow: true},
			Audit:       &handler.AuditRecorder{},
		},
		Analytics: &mockAnalyticsSource{},
	}
}

func TestHealth_IsPublic(t *testing.T) {
	r := New(newTestDeps(nil))

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestHealth_DBDown(t *testing.T) {
	deps := newTestDeps(nil)
	deps.DB = &mockDB{err: fmt.Errorf("connection refused")}
	r := New(deps)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestDocuments_RequiresAuth(t *testing.T) {
	r := New(newTestDeps(fmt.Errorf("invalid token")))

	req := httptest.NewRequest(http.MethodGet, "/api/documents", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestDocuments_WithAuth(t *testing.T) {
	r := New(newTestDeps(nil))

	req := httptest.NewRequest(http.MethodGet, "/api/documents", nil)
	req.Header.Set("Authorization", "Bearer valid-token")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestChat_RequiresAuth(t *testing.T) {
	r := New(newTestDeps(fmt.Errorf("invalid token")))

	req := httptest.NewRequest(http.MethodPost, "/api/rag-chat", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestForceChangePassword_BypassesPasswordChangeGate(t *testing.T) {
	deps := newTestDeps(nil)
	deps.PasswordChange = &mockPasswordChange{required: true}
	r := New(deps)

	// change-password (not force) must be blocked when a change is required.
	req := httptest.NewRequest(http.MethodPost, "/api/auth/change-password", nil)
	req.Header.Set("Authorization", "Bearer valid-token")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}

	var body map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["error_code"] != "PASSWORD_CHANGE_REQUIRED" {
		t.Errorf("error_code = %v, want PASSWORD_CHANGE_REQUIRED", body["error_code"])
	}

	// force-change-password passes the gate and reaches its handler.
	req = httptest.NewRequest(http.MethodPost, "/api/auth/force-change-password", nil)
	req.Header.Set("Authorization", "Bearer valid-token")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code == http.StatusForbidden {
		t.Errorf("force-change-password status = %d, want it not blocked by the gate", rec.Code)
	}
}

func TestUnknownRoute_Returns404(t *testing.T) {
	r := New(newTestDeps(nil))

	req := httptest.NewRequest(http.MethodGet, "/api/nonexistent", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}

	var body map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["success"] != false {
		t.Error("expected success=false for 404")
	}
}
