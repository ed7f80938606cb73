package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/connexus-ai/ragsupport-gateway/internal/model"
)

// AnalyticsSource is the read-side contract the analytics handlers need.
type AnalyticsSource interface {
	Summary(ctx context.Context, windowHours int) (*model.AnalyticsSummary, error)
	Recent(ctx context.Context, limit int) ([]model.SearchEvent, error)
}

const defaultSummaryWindowHours = 24
const defaultRecentLimit = 50

// AnalyticsSummaryHandler aggregates recent search events.
// GET /api/analytics/summary?last_hours=
func AnalyticsSummaryHandler(src AnalyticsSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hours, err := strconv.Atoi(r.URL.Query().Get("last_hours"))
		if err != nil || hours <= 0 {
			hours = defaultSummaryWindowHours
		}

		summary, err := src.Summary(r.Context(), hours)
		if err != nil {
			respondError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to compute analytics summary")
			return
		}
		respondOK(w, summary)
	}
}

// AnalyticsRecentHandler returns the most recent search events.
// GET /api/analytics/recent?limit=
func AnalyticsRecentHandler(src AnalyticsSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
		if err != nil || limit <= 0 {
			limit = defaultRecentLimit
		}

		events, err := src.Recent(r.Context(), limit)
		if err != nil {
			respondError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to load recent events")
			return
		}
		respondOK(w, events)
	}
}
