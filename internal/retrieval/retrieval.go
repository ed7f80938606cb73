// Package retrieval implements the Hybrid Retriever (C5): it fuses vector
// and keyword search over the document store, reranks the fused candidates
// through a cross-encoder call, and optionally augments the result with a
// live web search when the classifier prefers it or confidence is low.
package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/connexus-ai/ragsupport-gateway/internal/classify"
	"github.com/connexus-ai/ragsupport-gateway/internal/model"
	"github.com/connexus-ai/ragsupport-gateway/internal/store"
)

// Store is the subset of internal/store's Store the retriever depends on.
type Store interface {
	VectorSearch(ctx context.Context, queryEmbedding []float32, topK int, privacy model.PrivacyFilter) ([]store.Candidate, error)
	KeywordSearch(ctx context.Context, keywordQuery string, topK int, privacy model.PrivacyFilter) ([]store.Candidate, error)
}

// Embedder computes a query embedding, e.g. internal/embed.Embedder.
type Embedder interface {
	Embed(ctx context.Context, query string) ([]float32, error)
}

// Reranker cross-encoder-scores passages, e.g. internal/rerank.Reranker.
type Reranker interface {
	Score(ctx context.Context, query string, passages []string) ([]float64, error)
}

// WebCache is the Web Search Cache contract, e.g. internal/webcache.Cache.
type WebCache interface {
	Lookup(ctx context.Context, query string) (*model.WebCacheEntry, bool, error)
	Store(ctx context.Context, query string, results []model.WebResult) error
}

// WebSearcher performs a live outbound search, e.g. internal/websearch.Searcher.
type WebSearcher interface {
	Search(ctx context.Context, query string) ([]model.WebResult, error)
}

// alpha weights the vector score against the keyword score in the combined
// min-max fusion: score = alpha*vector + (1-alpha)*keyword.
const alpha = 0.7

// maxFusedItems bounds the interleaved DOC/WEB context the prompt composer receives.
const maxFusedItems = 10

// RankedChunk is a store Candidate carrying its fused ranking scores.
type RankedChunk struct {
	Candidate     store.Candidate
	CombinedScore float64 // alpha-weighted min-max fusion of vector + keyword
	RerankScore   float64 // cross-encoder score, or CombinedScore on fallback
}

// FusedItem is one line of the interleaved context block handed to the
// prompt composer, labeled "[DOC k]" or "[WEB k]".
type FusedItem struct {
	Label   string
	Content string
	Source  string
	Score   float64
}

// Result is the full output of Retrieve.
type Result struct {
	Chunks        []RankedChunk
	WebResults    []model.WebResult
	Fused         []FusedItem
	RerankSkipped bool
	WebConsulted  bool
	// TopScore is the best chunk's rerank score (or combined-score fallback)
	// before generation runs — the retrieval stage's own confidence signal,
	// also used internally to decide whether web augmentation is needed.
	TopScore float64
}

// Retriever composes the store, embedder, reranker, and web search/cache
// into the Hybrid Retriever contract.
type Retriever struct {
	store             Store
	embedder          Embedder
	reranker          Reranker
	webCache          WebCache
	webSearcher       WebSearcher
	minCandidatePool  int
	metadataWeighting bool
}

// New creates a Retriever. minCandidatePool is the configured floor for the
// candidate pool size (RETRIEVAL_CANDIDATES, default 30 per spec). webCache
// and webSearcher may be nil (typed nil interfaces must not be passed; pass
// literal nil) to disable web augmentation entirely. enableMetadataWeighting
// mirrors ENABLE_METADATA_WEIGHTING: when set, heading/intro chunks and
// early-page chunks get a small rerank-score boost so structural context
// (section headers, document openings) outranks equally-relevant body text.
func New(st Store, embedder Embedder, reranker Reranker, webCache WebCache, webSearcher WebSearcher, minCandidatePool int, enableMetadataWeighting bool) *Retriever {
	return &Retriever{
		store:             st,
		embedder:          embedder,
		reranker:          reranker,
		webCache:          webCache,
		webSearcher:       webSearcher,
		minCandidatePool:  minCandidatePool,
		metadataWeighting: enableMetadataWeighting,
	}
}

// Retrieve runs the full C5 algorithm. Vector/keyword store failure is
// fatal; web search failure degrades to RAG-only.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int, privacy model.PrivacyFilter, enableWeb bool, cls classify.Result) (*Result, error) {
	pool := topK * 3
	if pool < r.minCandidatePool {
		pool = r.minCandidatePool
	}

	queryEmbedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("retrieval.Retrieve: embed query: %w", err)
	}

	var vecResults, kwResults []store.Candidate
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		vecResults, err = r.store.VectorSearch(gctx, queryEmbedding, pool, privacy)
		return err
	})
	g.Go(func() error {
		var err error
		kwResults, err = r.store.KeywordSearch(gctx, query, pool, privacy)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("retrieval.Retrieve: store search: %w", err)
	}

	combined := combineScores(vecResults, kwResults, alpha)
	if len(combined) == 0 {
		result := &Result{}
		if needsWeb(enableWeb, cls, 0) {
			r.augmentWithWeb(ctx, query, result)
		}
		return result, nil
	}

	rerankPoolSize := len(combined) / 2
	if rerankPoolSize < topK {
		rerankPoolSize = topK
	}
	if rerankPoolSize > len(combined) {
		rerankPoolSize = len(combined)
	}
	rerankCandidates := combined[:rerankPoolSize]

	rerankSkipped := false
	scores, err := r.reranker.Score(ctx, query, passagesOf(rerankCandidates))
	if err != nil {
		slog.Warn("rerank_skipped", "error", err)
		rerankSkipped = true
	}

	ranked := make([]RankedChunk, len(rerankCandidates))
	for i, c := range rerankCandidates {
		rc := RankedChunk{Candidate: c.candidate, CombinedScore: c.combined}
		if rerankSkipped {
			rc.RerankScore = c.combined
		} else {
			rc.RerankScore = scores[i]
		}
		if r.metadataWeighting {
			rc.RerankScore += metadataBoost(c.candidate)
		}
		ranked[i] = rc
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].RerankScore != ranked[j].RerankScore {
			return ranked[i].RerankScore > ranked[j].RerankScore
		}
		return tieBreakLess(ranked[i].Candidate, ranked[j].Candidate)
	})
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}

	topScore := 0.0
	if len(ranked) > 0 {
		topScore = ranked[0].RerankScore
	}
	result := &Result{Chunks: ranked, RerankSkipped: rerankSkipped, TopScore: topScore}

	if needsWeb(enableWeb, cls, topScore) {
		r.augmentWithWeb(ctx, query, result)
	}

	result.Fused = fuse(result.Chunks, result.WebResults)
	return result, nil
}

// needsWeb applies step 5's trigger: web-first strategy, or a low top score.
func needsWeb(enableWeb bool, cls classify.Result, topScore float64) bool {
	if !enableWeb {
		return false
	}
	return cls.Strategy == classify.StrategyWebFirst || topScore < cls.Threshold
}

// augmentWithWeb consults the cache, falling back to a live fetch on miss.
// Failure here is logged and never surfaces to the caller.
func (r *Retriever) augmentWithWeb(ctx context.Context, query string, result *Result) {
	result.WebConsulted = true

	if r.webCache != nil {
		if entry, ok, err := r.webCache.Lookup(ctx, query); err != nil {
			slog.Warn("retrieval: web cache lookup failed", "error", err)
		} else if ok {
			result.WebResults = entry.Results
			return
		}
	}

	if r.webSearcher == nil {
		return
	}
	results, err := r.webSearcher.Search(ctx, query)
	if err != nil {
		slog.Warn("retrieval: web search failed, continuing without web augmentation", "error", err)
		return
	}
	result.WebResults = results

	if r.webCache != nil {
		if err := r.webCache.Store(ctx, query, results); err != nil {
			slog.Warn("retrieval: web cache store failed", "error", err)
		}
	}
}

type scoredCandidate struct {
	candidate store.Candidate
	combined  float64
}

// combineScores min-max normalizes each list independently, then combines
// per chunk: alpha*vector + (1-alpha)*keyword. A chunk present in only one
// list is scored using zero for the other signal.
func combineScores(vecResults, kwResults []store.Candidate, alpha float64) []scoredCandidate {
	vecNorm := minMaxNormalize(similarityOf(vecResults))
	kwNorm := minMaxNormalize(keywordScoreOf(kwResults))

	order := make([]string, 0, len(vecResults)+len(kwResults))
	byID := make(map[string]*scoredCandidate, len(vecResults)+len(kwResults))

	for i, c := range vecResults {
		byID[c.ChunkID] = &scoredCandidate{candidate: c, combined: alpha * vecNorm[i]}
		order = append(order, c.ChunkID)
	}
	for i, c := range kwResults {
		if existing, ok := byID[c.ChunkID]; ok {
			existing.combined += (1 - alpha) * kwNorm[i]
			if existing.candidate.Content == "" {
				existing.candidate = c
			}
		} else {
			byID[c.ChunkID] = &scoredCandidate{candidate: c, combined: (1 - alpha) * kwNorm[i]}
			order = append(order, c.ChunkID)
		}
	}

	out := make([]scoredCandidate, 0, len(order))
	seen := make(map[string]bool, len(order))
	for _, id := range order {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, *byID[id])
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].combined != out[j].combined {
			return out[i].combined > out[j].combined
		}
		return tieBreakLess(out[i].candidate, out[j].candidate)
	})
	return out
}

// tieBreakLess implements "prefer earlier in document, then shorter content".
func tieBreakLess(a, b store.Candidate) bool {
	if a.Page != b.Page {
		return a.Page < b.Page
	}
	return len(a.Content) < len(b.Content)
}

// metadataBoost nudges a rerank score up for chunks that carry a section
// title or otherwise read as document-opening material, and for chunks on
// an early page. Gated behind metadataWeighting; additive, small enough to
// never override a genuine relevance gap, only break near-ties in favor of
// structural context.
const (
	metadataHeadingBoost   = 0.05
	metadataEarlyPageBoost = 0.03
	metadataEarlyPageLimit = 2
)

func metadataBoost(c store.Candidate) float64 {
	var boost float64
	if c.SectionTitle != "" || looksLikeHeading(c.Content) {
		boost += metadataHeadingBoost
	}
	if c.Page > 0 && c.Page <= metadataEarlyPageLimit {
		boost += metadataEarlyPageBoost
	}
	return boost
}

// looksLikeHeading is a cheap structural signal for chunks whose own stored
// content starts with an all-caps label line (e.g. "INTRODUCTION:"), for
// documents processed without a separate section-title field.
func looksLikeHeading(content string) bool {
	line := content
	if idx := strings.IndexByte(content, '\n'); idx >= 0 {
		line = content[:idx]
	}
	line = strings.TrimSpace(strings.TrimSuffix(line, ":"))
	if line == "" || len(line) > 40 {
		return false
	}
	return line == strings.ToUpper(line) && strings.ToUpper(line) != strings.ToLower(line)
}

func similarityOf(candidates []store.Candidate) []float64 {
	out := make([]float64, len(candidates))
	for i, c := range candidates {
		out[i] = 1 - c.VectorDistance
	}
	return out
}

func keywordScoreOf(candidates []store.Candidate) []float64 {
	out := make([]float64, len(candidates))
	for i, c := range candidates {
		out[i] = c.KeywordScore
	}
	return out
}

func minMaxNormalize(values []float64) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	min, max := values[0], values[0]
	for _, v := range values {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	if max == min {
		for i := range values {
			out[i] = 1
		}
		return out
	}
	for i, v := range values {
		out[i] = (v - min) / (max - min)
	}
	return out
}

func passagesOf(candidates []scoredCandidate) []string {
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.candidate.Content
	}
	return out
}

// fuse interleaves ranked chunks and web results into a single labeled,
// deduplicated, capped context block.
func fuse(chunks []RankedChunk, webResults []model.WebResult) []FusedItem {
	var items []FusedItem
	seen := make(map[string]bool)

	docN, webN := 0, 0
	maxLen := len(chunks)
	if len(webResults) > maxLen {
		maxLen = len(webResults)
	}

	for i := 0; i < maxLen && len(items) < maxFusedItems; i++ {
		if i < len(chunks) {
			c := chunks[i]
			key := prefixHash(c.Candidate.Content)
			if !seen[key] {
				seen[key] = true
				docN++
				items = append(items, FusedItem{
					Label:   fmt.Sprintf("DOC %d", docN),
					Content: c.Candidate.Content,
					Source:  c.Candidate.DocName,
					Score:   c.RerankScore,
				})
			}
		}
		if len(items) >= maxFusedItems {
			break
		}
		if i < len(webResults) {
			w := webResults[i]
			key := prefixHash(w.Content)
			if !seen[key] {
				seen[key] = true
				webN++
				items = append(items, FusedItem{
					Label:   fmt.Sprintf("WEB %d", webN),
					Content: w.Content,
					Source:  w.URL,
					Score:   w.Score,
				})
			}
		}
	}

	if len(items) > maxFusedItems {
		items = items[:maxFusedItems]
	}
	return items
}

// prefixHash dedupes fused items by their leading content, tolerating minor
// trailing differences between overlapping DOC/WEB sources.
func prefixHash(content string) string {
	prefix := content
	if len(prefix) > 200 {
		prefix = prefix[:200]
	}
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(prefix))))
	return hex.EncodeToString(sum[:])
}
