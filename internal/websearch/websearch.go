// Package websearch performs the outbound instant-answer lookup that backs
// the Web Search Cache on a miss. It scrapes DuckDuckGo's HTML results page
// so no search API key is required.
package websearch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/connexus-ai/ragsupport-gateway/internal/model"
)

const (
	requestTimeout   = 8 * time.Second
	maxResponseBytes = 1 << 20
	endpoint         = "https://html.duckduckgo.com/html/"
)

// Searcher performs outbound web search lookups.
type Searcher struct {
	httpClient *http.Client
	maxResults int
}

// New creates a Searcher that returns up to maxResults results per query.
func New(maxResults int) *Searcher {
	if maxResults <= 0 {
		maxResults = 5
	}
	return &Searcher{
		httpClient: &http.Client{Timeout: requestTimeout},
		maxResults: maxResults,
	}
}

// Search performs a live web search. Failure here is recoverable at the
// retriever boundary: the caller degrades to RAG-only rather than failing
// the whole request.
func (s *Searcher) Search(ctx context.Context, query string) ([]model.WebResult, error) {
	reqURL := endpoint + "?q=" + url.QueryEscape(query)

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("websearch.Search: build request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; ragsupport-gateway/1.0)")
	req.Header.Set("Accept", "text/html")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("websearch.Search: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("websearch.Search: upstream status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("websearch.Search: read body: %w", err)
	}

	return parseResults(string(body), s.maxResults)
}

func parseResults(htmlContent string, maxResults int) ([]model.WebResult, error) {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return nil, fmt.Errorf("websearch: parse html: %w", err)
	}

	var results []model.WebResult
	rank := 0

	var visit func(*html.Node)
	visit = func(n *html.Node) {
		if len(results) >= maxResults {
			return
		}
		if n.Type == html.ElementNode && n.Data == "div" && hasClass(n, "result") && hasClass(n, "results_links") {
			if r, ok := extractResult(n); ok {
				rank++
				r.Score = scoreForRank(rank)
				results = append(results, r)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(doc)

	return results, nil
}

// scoreForRank turns result ordering into a [0,1] relevance score so the
// retriever can fuse web results alongside vector/keyword scores.
func scoreForRank(rank int) float64 {
	score := 1.0 - float64(rank-1)*0.15
	if score < 0.1 {
		return 0.1
	}
	return score
}

func extractResult(n *html.Node) (model.WebResult, bool) {
	var r model.WebResult
	var extract func(*html.Node)
	extract = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			if hasClass(n, "result__a") {
				r.URL = cleanRedirect(attrValue(n, "href"))
				r.Title = textContent(n)
			} else if hasClass(n, "result__snippet") {
				r.Content = textContent(n)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extract(c)
		}
	}
	extract(n)
	return r, r.URL != "" && r.Title != ""
}

func hasClass(n *html.Node, class string) bool {
	for _, attr := range n.Attr {
		if attr.Key == "class" && strings.Contains(attr.Val, class) {
			return true
		}
	}
	return false
}

func attrValue(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(strings.TrimSpace(n.Data))
			sb.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(sb.String())
}

// cleanRedirect unwraps DuckDuckGo's outbound link-tracking redirect.
func cleanRedirect(href string) string {
	const prefix = "//duckduckgo.com/l/?uddg="
	if !strings.HasPrefix(href, prefix) {
		return href
	}
	decoded, err := url.QueryUnescape(strings.TrimPrefix(href, prefix))
	if err != nil {
		return href
	}
	if idx := strings.Index(decoded, "&"); idx > 0 {
		decoded = decoded[:idx]
	}
	return decoded
}
