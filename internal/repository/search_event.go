package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connexus-ai/ragsupport-gateway/internal/model"
)

// SearchEventRepo persists and aggregates SearchEvent rows, implementing
// analytics.Store.
type SearchEventRepo struct {
	pool *pgxpool.Pool
}

// NewSearchEventRepo creates a SearchEventRepo.
func NewSearchEventRepo(pool *pgxpool.Pool) *SearchEventRepo {
	return &SearchEventRepo{pool: pool}
}

// Insert appends one SearchEvent row.
func (r *SearchEventRepo) Insert(ctx context.Context, event model.SearchEvent) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO search_events (id, ts, user_id, query, method, classification, strategy,
			rag_confidence, final_confidence, latency_ms, chunk_count, web_count, fused_count, model, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		event.ID, event.Ts, event.UserID, event.Query, event.Method, event.Classification, event.Strategy,
		event.RAGConfidence, event.FinalConfidence, event.LatencyMs, event.ChunkCount, event.WebCount,
		event.FusedCount, event.Model, event.Error,
	)
	if err != nil {
		return fmt.Errorf("repository: insert search event: %w", err)
	}
	return nil
}

// Summary aggregates counts by method/classification and average
// latency/confidence over the last windowHours.
func (r *SearchEventRepo) Summary(ctx context.Context, windowHours int) (*model.AnalyticsSummary, error) {
	summary := &model.AnalyticsSummary{
		WindowHours:      windowHours,
		ByMethod:         map[string]int{},
		ByClassification: map[string]int{},
	}

	window := fmt.Sprintf("%d hours", windowHours)

	var avgLatency, avgConfidence *float64
	err := r.pool.QueryRow(ctx, `
		SELECT count(*), avg(latency_ms), avg(final_confidence)
		FROM search_events
		WHERE ts >= now() - $1::interval`, window).Scan(&summary.TotalQueries, &avgLatency, &avgConfidence)
	if err != nil {
		return nil, fmt.Errorf("repository: summary totals: %w", err)
	}
	if avgLatency != nil {
		summary.AvgLatencyMs = *avgLatency
	}
	if avgConfidence != nil {
		summary.AvgConfidence = *avgConfidence
	}

	methodRows, err := r.pool.Query(ctx, `
		SELECT method, count(*) FROM search_events
		WHERE ts >= now() - $1::interval
		GROUP BY method`, window)
	if err != nil {
		return nil, fmt.Errorf("repository: summary by method: %w", err)
	}
	defer methodRows.Close()
	for methodRows.Next() {
		var method string
		var count int
		if err := methodRows.Scan(&method, &count); err != nil {
			return nil, fmt.Errorf("repository: scan method count: %w", err)
		}
		summary.ByMethod[method] = count
	}
	if err := methodRows.Err(); err != nil {
		return nil, fmt.Errorf("repository: summary by method: %w", err)
	}

	classRows, err := r.pool.Query(ctx, `
		SELECT classification, count(*) FROM search_events
		WHERE ts >= now() - $1::interval
		GROUP BY classification`, window)
	if err != nil {
		return nil, fmt.Errorf("repository: summary by classification: %w", err)
	}
	defer classRows.Close()
	for classRows.Next() {
		var classification string
		var count int
		if err := classRows.Scan(&classification, &count); err != nil {
			return nil, fmt.Errorf("repository: scan classification count: %w", err)
		}
		summary.ByClassification[classification] = count
	}
	if err := classRows.Err(); err != nil {
		return nil, fmt.Errorf("repository: summary by classification: %w", err)
	}

	return summary, nil
}

// Recent returns the most recent SearchEvent rows, newest first.
func (r *SearchEventRepo) Recent(ctx context.Context, limit int) ([]model.SearchEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, ts, user_id, query, method, classification, strategy,
			rag_confidence, final_confidence, latency_ms, chunk_count, web_count, fused_count, model, error
		FROM search_events
		ORDER BY ts DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("repository: recent search events: %w", err)
	}
	defer rows.Close()

	var events []model.SearchEvent
	for rows.Next() {
		var e model.SearchEvent
		if err := rows.Scan(&e.ID, &e.Ts, &e.UserID, &e.Query, &e.Method, &e.Classification, &e.Strategy,
			&e.RAGConfidence, &e.FinalConfidence, &e.LatencyMs, &e.ChunkCount, &e.WebCount, &e.FusedCount,
			&e.Model, &e.Error); err != nil {
			return nil, fmt.Errorf("repository: scan search event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
