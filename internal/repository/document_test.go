package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/connexus-ai/ragsupport-gateway/internal/model"
)

func TestPrivacyClauseFor(t *testing.T) {
	tests := []struct {
		filter  model.PrivacyFilter
		want    string
		wantErr bool
	}{
		{model.PrivacyFilterPublic, "privacy_level = 'public'", false},
		{"", "privacy_level = 'public'", false},
		{model.PrivacyFilterPrivate, "privacy_level = 'private'", false},
		{model.PrivacyFilterAll, "true", false},
		{model.PrivacyFilter("bogus"), "", true},
	}

	for _, tt := range tests {
		got, err := privacyClauseFor(tt.filter)
		if (err != nil) != tt.wantErr {
			t.Errorf("privacyClauseFor(%q) error = %v, wantErr %v", tt.filter, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("privacyClauseFor(%q) = %q, want %q", tt.filter, got, tt.want)
		}
	}
}

func connectForTest(t *testing.T) *DocumentRepo {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := NewPool(ctx, dbURL, 5)
	if err != nil {
		t.Fatalf("NewPool() error: %v", err)
	}
	t.Cleanup(pool.Close)
	return NewDocumentRepo(pool)
}

func TestDocumentRepo_GetByID_NotFound(t *testing.T) {
	repo := connectForTest(t)

	_, err := repo.GetByID(context.Background(), "00000000-0000-0000-0000-000000000000", model.PrivacyFilterPublic)
	if err != ErrDocumentNotFound {
		t.Errorf("GetByID() error = %v, want ErrDocumentNotFound", err)
	}
}

func TestDocumentRepo_List_DefaultsLimitAndOffset(t *testing.T) {
	repo := connectForTest(t)

	docs, total, err := repo.List(context.Background(), DocumentListOpts{Privacy: model.PrivacyFilterPublic})
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if total < len(docs) {
		t.Errorf("total = %d, want >= len(docs) = %d", total, len(docs))
	}
}

func TestDocumentRepo_Delete_NotFound(t *testing.T) {
	repo := connectForTest(t)

	err := repo.Delete(context.Background(), "00000000-0000-0000-0000-000000000000")
	if err != ErrDocumentNotFound {
		t.Errorf("Delete() error = %v, want ErrDocumentNotFound", err)
	}
}
