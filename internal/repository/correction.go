package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connexus-ai/ragsupport-gateway/internal/model"
)

// CorrectionRepo looks up precomputed answer overrides by question fingerprint.
type CorrectionRepo struct {
	pool *pgxpool.Pool
}

// NewCorrectionRepo creates a CorrectionRepo.
func NewCorrectionRepo(pool *pgxpool.Pool) *CorrectionRepo {
	return &CorrectionRepo{pool: pool}
}

// Lookup returns the correction for a fingerprint, or ok=false if none exists.
func (r *CorrectionRepo) Lookup(ctx context.Context, fingerprint string) (*model.Correction, bool, error) {
	var c model.Correction
	err := r.pool.QueryRow(ctx, `
		SELECT question_fingerprint, corrected_answer FROM corrections WHERE question_fingerprint = $1`,
		fingerprint).Scan(&c.QuestionFingerprint, &c.CorrectedAnswer)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("repository: lookup correction: %w", err)
	}
	return &c, true, nil
}
