// Package store adapts the relational document store to the single
// search contract the retriever needs: vector nearest-neighbor and
// lexical full-text search, both privacy-scoped.
package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/connexus-ai/ragsupport-gateway/internal/model"
)

// Candidate is one chunk surfaced by either search path, carrying enough
// of the owning document to label and rank it.
type Candidate struct {
	ChunkID        string
	Content        string
	DocName        string
	Page           int
	SectionTitle   string
	Kind           model.ChunkKind
	VectorDistance float64 // cosine distance; lower is closer. Zero when unset.
	KeywordScore   float64 // ts_rank_cd; zero when unset.
}

// Store is the adapter the Hybrid Retriever (C5) depends on. It does not
// own the embedding model — callers compute query_embedding via the
// Backend Pool before calling VectorSearch.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store over an existing connection pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// privacyClause maps a PrivacyFilter to a SQL predicate fragment over the
// chunk's own privacy_level column. Non-admin callers must always pass
// PrivacyFilterPublic; the filter is never client-controlled.
func privacyClause(filter model.PrivacyFilter) (string, error) {
	switch filter {
	case model.PrivacyFilterPublic:
		return "c.privacy_level = 'public'", nil
	case model.PrivacyFilterPrivate:
		return "c.privacy_level = 'private'", nil
	case model.PrivacyFilterAll:
		return "TRUE", nil
	default:
		return "", fmt.Errorf("store: unknown privacy filter %q", filter)
	}
}

// VectorSearch returns the topK chunks nearest queryEmbedding by cosine
// distance, restricted by privacy filter.
func (s *Store) VectorSearch(ctx context.Context, queryEmbedding []float32, topK int, privacy model.PrivacyFilter) ([]Candidate, error) {
	clause, err := privacyClause(privacy)
	if err != nil {
		return nil, fmt.Errorf("store.VectorSearch: %w", err)
	}

	embedding := pgvector.NewVector(queryEmbedding)

	query := fmt.Sprintf(`
		SELECT c.id, c.content, d.file_name, c.page, c.section_title, c.kind,
			c.embedding <=> $1::vector AS distance
		FROM document_chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE %s
		ORDER BY c.embedding <=> $1::vector
		LIMIT $2`, clause)

	rows, err := s.pool.Query(ctx, query, embedding, topK)
	if err != nil {
		slog.Error("[STORE] vector search failed", "error", err)
		return nil, fmt.Errorf("store.VectorSearch: %w", err)
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var c Candidate
		var kind string
		if err := rows.Scan(&c.ChunkID, &c.Content, &c.DocName, &c.Page, &c.SectionTitle, &kind, &c.VectorDistance); err != nil {
			return nil, fmt.Errorf("store.VectorSearch: scan: %w", err)
		}
		c.Kind = model.ChunkKind(kind)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store.VectorSearch: %w", err)
	}

	slog.Debug("[STORE] vector search complete", "results", len(out), "top_k", topK)
	return out, nil
}

// KeywordSearch returns the topK chunks ranked by PostgreSQL full-text
// search relevance, restricted by privacy filter.
func (s *Store) KeywordSearch(ctx context.Context, keywordQuery string, topK int, privacy model.PrivacyFilter) ([]Candidate, error) {
	clause, err := privacyClause(privacy)
	if err != nil {
		return nil, fmt.Errorf("store.KeywordSearch: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT c.id, c.content, d.file_name, c.page, c.section_title, c.kind,
			ts_rank_cd(c.content_tsv, plainto_tsquery('english', $1)) AS rank
		FROM document_chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE %s AND c.content_tsv @@ plainto_tsquery('english', $1)
		ORDER BY rank DESC
		LIMIT $2`, clause)

	rows, err := s.pool.Query(ctx, query, keywordQuery, topK)
	if err != nil {
		slog.Error("[STORE] keyword search failed", "error", err)
		return nil, fmt.Errorf("store.KeywordSearch: %w", err)
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var c Candidate
		var kind string
		if err := rows.Scan(&c.ChunkID, &c.Content, &c.DocName, &c.Page, &c.SectionTitle, &kind, &c.KeywordScore); err != nil {
			return nil, fmt.Errorf("store.KeywordSearch: scan: %w", err)
		}
		c.Kind = model.ChunkKind(kind)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store.KeywordSearch: %w", err)
	}

	slog.Debug("[STORE] keyword search complete", "results", len(out), "top_k", topK)
	return out, nil
}

// AllowedPrivacy maps a caller's admin-ness to the privacy filter they may
// request. Non-admin callers always see public only, per §4.3.
func AllowedPrivacy(isAdmin bool, requested model.PrivacyFilter) model.PrivacyFilter {
	if !isAdmin {
		return model.PrivacyFilterPublic
	}
	if requested == "" {
		return model.PrivacyFilterAll
	}
	return requested
}
