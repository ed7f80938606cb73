package repository

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connexus-ai/ragsupport-gateway/internal/model"
)

// lookupTimeout bounds each glossary query; promptcompose.TerminologyLookup
// has no ctx parameter since glossary enrichment is best-effort and must
// never hold up prompt composition.
const lookupTimeout = 2 * time.Second

// TerminologyRepo resolves acronym/synonym glossary entries referenced by a
// query's tokens, implementing promptcompose.TerminologyLookup.
type TerminologyRepo struct {
	pool *pgxpool.Pool
}

// NewTerminologyRepo creates a TerminologyRepo.
func NewTerminologyRepo(pool *pgxpool.Pool) *TerminologyRepo {
	return &TerminologyRepo{pool: pool}
}

var wordPattern = regexp.MustCompile(`[A-Za-z0-9]+`)

// queryTokens extracts the distinct word-like tokens from a query, upper and
// lower cased variants both included since acronyms are stored upper-case
// but the raw query may not be.
func queryTokens(query string) []string {
	matches := wordPattern.FindAllString(query, -1)
	seen := make(map[string]bool, len(matches)*2)
	var tokens []string
	for _, m := range matches {
		for _, variant := range []string{m, strings.ToUpper(m), strings.ToLower(m)} {
			if !seen[variant] {
				seen[variant] = true
				tokens = append(tokens, variant)
			}
		}
	}
	return tokens
}

// Acronyms returns glossary acronym entries whose key appears as a token in
// query, bounded by limit.
func (r *TerminologyRepo) Acronyms(query string, limit int) ([]model.Acronym, error) {
	tokens := queryTokens(query)
	if len(tokens) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()

	rows, err := r.pool.Query(ctx, `
		SELECT acronym, definition, sources, confidence, verified
		FROM acronyms
		WHERE acronym = ANY($1)
		LIMIT $2`, tokens, limit)
	if err != nil {
		return nil, fmt.Errorf("repository: acronyms: %w", err)
	}
	defer rows.Close()

	var acronyms []model.Acronym
	for rows.Next() {
		var a model.Acronym
		if err := rows.Scan(&a.Acronym, &a.Definition, &a.Sources, &a.Confidence, &a.Verified); err != nil {
			return nil, fmt.Errorf("repository: scan acronym: %w", err)
		}
		acronyms = append(acronyms, a)
	}
	return acronyms, rows.Err()
}

// Synonyms returns synonym relationships whose term or synonym appears as a
// token in query, bounded by limit.
func (r *TerminologyRepo) Synonyms(query string, limit int) ([]model.Synonym, error) {
	tokens := queryTokens(query)
	if len(tokens) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()

	rows, err := r.pool.Query(ctx, `
		SELECT term, synonym, kind, confidence
		FROM synonyms
		WHERE term = ANY($1) OR synonym = ANY($1)
		LIMIT $2`, tokens, limit)
	if err != nil {
		return nil, fmt.Errorf("repository: synonyms: %w", err)
	}
	defer rows.Close()

	var synonyms []model.Synonym
	for rows.Next() {
		var s model.Synonym
		if err := rows.Scan(&s.Term, &s.Synonym, &s.Kind, &s.Confidence); err != nil {
			return nil, fmt.Errorf("repository: scan synonym: %w", err)
		}
		synonyms = append(synonyms, s)
	}
	return synonyms, rows.Err()
}

// UpsertAcronym merges on the acronym key: a re-ingested acronym overwrites
// its definition/sources/confidence/verified fields in place.
func (r *TerminologyRepo) UpsertAcronym(ctx context.Context, a model.Acronym) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO acronyms (acronym, definition, sources, confidence, verified)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (acronym) DO UPDATE SET
			definition = EXCLUDED.definition,
			sources = EXCLUDED.sources,
			confidence = EXCLUDED.confidence,
			verified = EXCLUDED.verified`,
		a.Acronym, a.Definition, a.Sources, a.Confidence, a.Verified)
	if err != nil {
		return fmt.Errorf("repository: upsert acronym: %w", err)
	}
	return nil
}

// UpsertSynonym merges on (term, synonym, kind): a re-ingested relationship
// overwrites its confidence in place.
func (r *TerminologyRepo) UpsertSynonym(ctx context.Context, s model.Synonym) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO synonyms (term, synonym, kind, confidence)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (term, synonym, kind) DO UPDATE SET confidence = EXCLUDED.confidence`,
		s.Term, s.Synonym, s.Kind, s.Confidence)
	if err != nil {
		return fmt.Errorf("repository: upsert synonym: %w", err)
	}
	return nil
}
