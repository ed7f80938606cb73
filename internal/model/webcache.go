package model

import "time"

// WebResult is a single instant-answer search result.
type WebResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// WebCacheEntry is a normalized-query -> result-list row with a TTL.
// Invariant: now < ExpiresAt while served; expired entries are purged lazily.
type WebCacheEntry struct {
	QueryHash      string      `json:"queryHash"`
	NormalizedQuery string     `json:"normalizedQuery"`
	Results        []WebResult `json:"results"`
	ExpiresAt      time.Time   `json:"expiresAt"`
	HitCount       int         `json:"hitCount"`
	CreatedAt      time.Time   `json:"createdAt"`
}
