// Package promptcompose assembles the final prompt sent to the Generation
// Orchestrator: a fixed system preamble, a bounded terminology glossary, the
// fused retrieval context, and the user's verbatim question.
package promptcompose

import (
	"fmt"
	"strings"

	"github.com/connexus-ai/ragsupport-gateway/internal/model"
	"github.com/connexus-ai/ragsupport-gateway/internal/retrieval"
)

const (
	maxAcronyms = 3
	maxSynonyms = 5

	// approxCharsPerToken is a rough estimator used only to decide whether
	// the composed prompt needs to shed low-ranked chunks; it does not
	// need to match any particular tokenizer exactly.
	approxCharsPerToken = 4
)

const systemPreamble = `You are a technical support assistant for an engineering knowledge base.
Rules:
- Only use the provided context to answer. Never speculate beyond it.
- Cite every factual claim inline as [DOC n] or [WEB n], referencing the context labels below.
- If sources disagree, mark the conflict explicitly rather than silently picking one.
- If the context is insufficient to answer, say so plainly instead of guessing.`

// TerminologyLookup resolves glossary candidates for a query. Implementations
// typically query the acronyms/synonyms tables filtered by noun phrases
// extracted from the query.
type TerminologyLookup interface {
	Acronyms(query string, limit int) ([]model.Acronym, error)
	Synonyms(query string, limit int) ([]model.Synonym, error)
}

// Result is the composed prompt plus whether it had to drop chunks to fit.
type Result struct {
	Prompt            string
	ContextTruncated  bool
	DroppedChunkCount int
}

// Composer builds prompts for the Generation Orchestrator.
type Composer struct {
	terminology    TerminologyLookup // may be nil to disable the glossary section
	contextBudget  int               // approximate token budget for the fused context block
}

// New creates a Composer. contextBudget is the approximate token budget
// available for the fused context block; pass 0 to use a sane default.
func New(terminology TerminologyLookup, contextBudget int) *Composer {
	if contextBudget <= 0 {
		contextBudget = 3000
	}
	return &Composer{terminology: terminology, contextBudget: contextBudget}
}

// Compose assembles the final prompt for a query against its fused retrieval
// context. It never truncates silently: when the fused context would exceed
// the configured budget, it drops the lowest-ranked items first (the fused
// slice is assumed ordered by descending relevance) and reports the drop.
func (c *Composer) Compose(query string, fused []retrieval.FusedItem) Result {
	items, truncated, dropped := fitToBudget(fused, c.contextBudget)

	var sb strings.Builder
	sb.WriteString(systemPreamble)
	sb.WriteString("\n\n")

	if glossary := c.buildGlossary(query); glossary != "" {
		sb.WriteString(glossary)
		sb.WriteString("\n")
	}

	sb.WriteString("=== CONTEXT ===\n")
	for _, item := range items {
		sb.WriteString(fmt.Sprintf("[%s]\n%s\n\n", item.Label, item.Content))
	}

	sb.WriteString("=== QUESTION ===\n")
	sb.WriteString(query)
	sb.WriteString("\n\n")
	sb.WriteString("Cite [DOC n] or [WEB n] inline for every factual claim; mark conflicts explicitly.")

	return Result{
		Prompt:            sb.String(),
		ContextTruncated:  truncated,
		DroppedChunkCount: dropped,
	}
}

// buildGlossary renders a bounded acronym/synonym section. Any lookup error
// is treated as "no glossary for this query" rather than failing the whole
// composition — the glossary is an enrichment, not a correctness requirement.
func (c *Composer) buildGlossary(query string) string {
	if c.terminology == nil {
		return ""
	}

	acronyms, err := c.terminology.Acronyms(query, maxAcronyms)
	if err != nil {
		acronyms = nil
	}
	synonyms, err := c.terminology.Synonyms(query, maxSynonyms)
	if err != nil {
		synonyms = nil
	}
	if len(acronyms) == 0 && len(synonyms) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("=== GLOSSARY ===\n")
	for _, a := range acronyms {
		sb.WriteString(fmt.Sprintf("%s: %s\n", a.Acronym, a.Definition))
	}
	for _, s := range synonyms {
		sb.WriteString(fmt.Sprintf("%s ~ %s (%s)\n", s.Term, s.Synonym, s.Kind))
	}
	return sb.String()
}

// fitToBudget drops lowest-ranked (trailing) items until the remaining
// context fits within the approximate token budget.
func fitToBudget(fused []retrieval.FusedItem, budget int) ([]retrieval.FusedItem, bool, int) {
	items := fused
	for estimatedTokens(items) > budget && len(items) > 1 {
		items = items[:len(items)-1]
	}
	dropped := len(fused) - len(items)
	return items, dropped > 0, dropped
}

func estimatedTokens(items []retrieval.FusedItem) int {
	chars := 0
	for _, item := range items {
		chars += len(item.Content)
	}
	return chars / approxCharsPerToken
}
