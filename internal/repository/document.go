package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connexus-ai/ragsupport-gateway/internal/model"
)

// ErrDocumentNotFound is returned when a lookup or delete targets a document
// that does not exist (or is not visible under the caller's privacy scope).
var ErrDocumentNotFound = errors.New("repository: document not found")

// DocumentListOpts filters and paginates a document listing.
type DocumentListOpts struct {
	Privacy        model.PrivacyFilter
	Classification string
	Product        string
	Limit          int
	Offset         int
}

// DocumentRepo reads, lists, and deletes ingested documents. Ingestion is an
// external batch pipeline; this repo never creates a document.
type DocumentRepo struct {
	pool *pgxpool.Pool
}

// NewDocumentRepo constructs a DocumentRepo.
func NewDocumentRepo(pool *pgxpool.Pool) *DocumentRepo {
	return &DocumentRepo{pool: pool}
}

const documentColumns = `id, file_name, content_hash, privacy_level, classification, product, version,
	chunk_count, storage_uri, size_bytes, metadata, created_at`

func scanDocument(row pgx.Row) (*model.Document, error) {
	var doc model.Document
	var meta []byte
	if err := row.Scan(&doc.ID, &doc.FileName, &doc.ContentHash, &doc.PrivacyLevel, &doc.Classification,
		&doc.Product, &doc.Version, &doc.ChunkCount, &doc.StorageURI, &doc.SizeBytes, &meta, &doc.CreatedAt); err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		doc.Metadata = json.RawMessage(meta)
	}
	return &doc, nil
}

// GetByID fetches a document's metadata. Returns ErrDocumentNotFound when the
// document doesn't exist or falls outside the requested privacy scope.
func (r *DocumentRepo) GetByID(ctx context.Context, id string, privacy model.PrivacyFilter) (*model.Document, error) {
	clause, err := privacyClauseFor(privacy)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT %s FROM documents WHERE id = $1 AND %s`, documentColumns, clause)
	doc, err := scanDocument(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("repository: get document: %w", err)
	}
	return doc, nil
}

// List returns a page of documents matching opts, newest first, plus the
// total count matching the filter (ignoring pagination) for the caller to
// build page metadata.
func (r *DocumentRepo) List(ctx context.Context, opts DocumentListOpts) ([]model.Document, int, error) {
	clause, err := privacyClauseFor(opts.Privacy)
	if err != nil {
		return nil, 0, err
	}

	where := "WHERE " + clause
	args := []any{}
	if opts.Classification != "" {
		args = append(args, opts.Classification)
		where += fmt.Sprintf(" AND classification = $%d", len(args))
	}
	if opts.Product != "" {
		args = append(args, opts.Product)
		where += fmt.Sprintf(" AND product = $%d", len(args))
	}

	limit := opts.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	countQuery := "SELECT count(*) FROM documents " + where
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("repository: count documents: %w", err)
	}

	args = append(args, limit, offset)
	listQuery := fmt.Sprintf(`SELECT %s FROM documents %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		documentColumns, where, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, listQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("repository: list documents: %w", err)
	}
	defer rows.Close()

	var docs []model.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("repository: scan document: %w", err)
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("repository: list documents: %w", err)
	}
	return docs, total, nil
}

// ChunkSummary is the lightweight per-chunk view returned alongside a
// document's metadata (GET /api/documents/{id}).
type ChunkSummary struct {
	ID           string          `json:"id"`
	Ordinal      int             `json:"ordinal"`
	Page         int             `json:"page"`
	SectionTitle string          `json:"sectionTitle"`
	Kind         model.ChunkKind `json:"kind"`
	TokenCount   int             `json:"tokenCount"`
}

// ChunkSummaries returns the ordinal-ordered chunk summary for a document,
// without chunk content or embeddings.
func (r *DocumentRepo) ChunkSummaries(ctx context.Context, documentID string) ([]ChunkSummary, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, ordinal, page, section_title, kind, token_count
		FROM document_chunks
		WHERE document_id = $1
		ORDER BY ordinal ASC`, documentID)
	if err != nil {
		return nil, fmt.Errorf("repository: chunk summaries: %w", err)
	}
	defer rows.Close()

	var summaries []ChunkSummary
	for rows.Next() {
		var s ChunkSummary
		if err := rows.Scan(&s.ID, &s.Ordinal, &s.Page, &s.SectionTitle, &s.Kind, &s.TokenCount); err != nil {
			return nil, fmt.Errorf("repository: scan chunk summary: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// Delete removes a document and cascades to its chunks. Returns
// ErrDocumentNotFound if no row matched.
func (r *DocumentRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("repository: delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

// privacyClauseFor mirrors internal/store's privacy predicate so document
// listing/lookup honors the same public/private/all scoping as retrieval.
func privacyClauseFor(filter model.PrivacyFilter) (string, error) {
	switch filter {
	case model.PrivacyFilterPublic, "":
		return "privacy_level = 'public'", nil
	case model.PrivacyFilterPrivate:
		return "privacy_level = 'private'", nil
	case model.PrivacyFilterAll:
		return "true", nil
	default:
		return "", fmt.Errorf("repository: unknown privacy filter %q", filter)
	}
}
