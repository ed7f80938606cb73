// Package webcache is the cross-process Web Search Cache: a
// normalized-query -> result-list row with a TTL, shared across API
// instances via the relational store rather than in-process memory.
package webcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connexus-ai/ragsupport-gateway/internal/model"
)

// Cache is the Web Search Cache (C2). Disabled caches always miss and
// never write, so callers can treat WEB_CACHE_ENABLED=false uniformly.
type Cache struct {
	pool    *pgxpool.Pool
	ttl     time.Duration
	maxRows int
	enabled bool
}

// New creates a Cache bound to the given pool and configuration.
func New(pool *pgxpool.Pool, ttl time.Duration, maxRows int, enabled bool) *Cache {
	return &Cache{pool: pool, ttl: ttl, maxRows: maxRows, enabled: enabled}
}

// Lookup returns the cached result list for query if present and unexpired.
// A hit increments the row's hit_count. Invariant: for every hit returned to
// a caller, ExpiresAt is strictly after the read time.
func (c *Cache) Lookup(ctx context.Context, query string) (*model.WebCacheEntry, bool, error) {
	if !c.enabled {
		return nil, false, nil
	}

	hash := QueryHash(query)
	var entry model.WebCacheEntry
	var resultsJSON []byte
	row := c.pool.QueryRow(ctx, `
		SELECT query_hash, normalized_query, results_json, expires_at, hit_count, created_at
		FROM web_search_cache WHERE query_hash = $1`, hash)
	err := row.Scan(&entry.QueryHash, &entry.NormalizedQuery, &resultsJSON, &entry.ExpiresAt, &entry.HitCount, &entry.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("webcache.Lookup: %w", err)
	}

	if !entry.ExpiresAt.After(time.Now()) {
		return nil, false, nil
	}

	if err := json.Unmarshal(resultsJSON, &entry.Results); err != nil {
		return nil, false, fmt.Errorf("webcache.Lookup: decode results: %w", err)
	}

	if _, err := c.pool.Exec(ctx, `UPDATE web_search_cache SET hit_count = hit_count + 1 WHERE query_hash = $1`, hash); err != nil {
		slog.Warn("webcache: failed to bump hit_count", "error", err)
	}
	entry.HitCount++

	slog.Info("webcache hit", "query_hash", hash, "hit_count", entry.HitCount)
	return &entry, true, nil
}

// Store overwrites (or inserts) the row for query with a fresh TTL, then
// evicts the oldest rows beyond maxRows. A store always resets hit_count,
// matching the spec's "second call overwrites the row" TTL behavior.
func (c *Cache) Store(ctx context.Context, query string, results []model.WebResult) error {
	if !c.enabled {
		return nil
	}

	resultsJSON, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("webcache.Store: encode results: %w", err)
	}

	hash := QueryHash(query)
	normalized := normalizeQuery(query)
	expiresAt := time.Now().Add(c.ttl)

	_, err = c.pool.Exec(ctx, `
		INSERT INTO web_search_cache (query_hash, normalized_query, results_json, expires_at, hit_count, created_at)
		VALUES ($1, $2, $3, $4, 0, now())
		ON CONFLICT (query_hash) DO UPDATE SET
			normalized_query = EXCLUDED.normalized_query,
			results_json = EXCLUDED.results_json,
			expires_at = EXCLUDED.expires_at,
			hit_count = 0,
			created_at = now()`,
		hash, normalized, resultsJSON, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("webcache.Store: %w", err)
	}

	if err := c.evictOverflow(ctx); err != nil {
		slog.Warn("webcache: eviction failed", "error", err)
	}
	return nil
}

// evictOverflow drops the oldest rows once the table exceeds maxRows.
func (c *Cache) evictOverflow(ctx context.Context) error {
	if c.maxRows <= 0 {
		return nil
	}
	_, err := c.pool.Exec(ctx, `
		DELETE FROM web_search_cache
		WHERE query_hash NOT IN (
			SELECT query_hash FROM web_search_cache ORDER BY created_at DESC LIMIT $1
		)`, c.maxRows)
	return err
}

// QueryHash returns the deterministic cache key for a raw query string.
func QueryHash(query string) string {
	sum := sha256.Sum256([]byte(normalizeQuery(query)))
	return hex.EncodeToString(sum[:])
}

func normalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}
