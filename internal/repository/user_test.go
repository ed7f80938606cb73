package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/connexus-ai/ragsupport-gateway/internal/model"
)

func TestHashToken_IsDeterministicAndDistinct(t *testing.T) {
	a := hashToken("token-a")
	b := hashToken("token-a")
	c := hashToken("token-b")

	if a != b {
		t.Error("hashToken should be deterministic for the same input")
	}
	if a == c {
		t.Error("hashToken should differ for different inputs")
	}
}

func connectUserRepoForTest(t *testing.T) *UserRepo {
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
	return NewUserRepo(pool)
}

func TestUserRepo_GetByEmail_NotFound(t *testing.T) {
	repo := connectUserRepoForTest(t)

	_, err := repo.GetByEmail(context.Background(), "nobody@example.com")
	if err != ErrUserNotFound {
		t.Errorf("GetByEmail() error = %v, want ErrUserNotFound", err)
	}
}

func TestUserRepo_ConsumeVerificationToken_UnknownTokenIsInvalid(t *testing.T) {
	repo := connectUserRepoForTest(t)

	_, err := repo.ConsumeVerificationToken(context.Background(), "never-issued", model.VerificationTokenEmailVerify)
	if err != ErrTokenInvalid {
		t.Errorf("ConsumeVerificationToken() error = %v, want ErrTokenInvalid", err)
	}
}
