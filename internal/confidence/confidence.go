// Package confidence scores how much the system should trust a generated
// answer, combining retrieval evidence, query coverage, output tone, and
// source diversity into a single [0,1] scalar.
package confidence

import (
	"regexp"
	"strings"

	"github.com/connexus-ai/ragsupport-gateway/internal/classify"
)

const (
	weightEvidenceDensity = 0.3
	weightQueryOverlap    = 0.25
	weightSourceDiversity = 0.15
	maxCoherenceBonus     = 0.1
	maxUncertaintyPenalty = 0.3
)

// FixedCorrectionScore is returned whenever an answer came from the
// corrections path, bypassing retrieval and generation entirely.
const FixedCorrectionScore = 1.0

var uncertaintySentinels = regexp.MustCompile(`(?i)\b(i don't know|i do not know|cannot (find|determine|answer)|no information|not (enough|sufficient) (information|context)|unable to (find|locate|determine)|unclear from the (provided|available) context)\b`)

var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true, "was": true,
	"were": true, "of": true, "in": true, "on": true, "to": true, "for": true,
	"and": true, "or": true, "but": true, "with": true, "at": true, "by": true,
	"from": true, "it": true, "this": true, "that": true, "what": true, "how": true,
	"do": true, "does": true, "i": true, "my": true, "you": true, "your": true,
}

var complexityMultiplier = map[classify.Complexity]float64{
	classify.ComplexitySimple:   1.0,
	classify.ComplexityModerate: 0.95,
	classify.ComplexityComplex:  0.9,
	classify.ComplexityExpert:   0.85,
}

// Chunk is the minimal shape the scorer needs from a retrieved chunk.
type Chunk struct {
	Content string
	DocName string
}

// Score combines evidence density, query-term overlap, output coherence,
// source diversity, and a complexity multiplier into a clamped [0,1] value.
func Score(query string, chunks []Chunk, generatedText string, cls classify.Result) float64 {
	evidenceDensity := clamp01(float64(len(chunks)) / float64(max1(cls.ChunkTarget)))

	fusedContext := fuseContent(chunks)
	queryOverlap := termOverlap(query, fusedContext)

	coherence := coherenceAdjustment(generatedText)

	diversity := sourceDiversity(chunks)

	base := weightEvidenceDensity*evidenceDensity +
		weightQueryOverlap*queryOverlap +
		weightSourceDiversity*diversity +
		coherence

	multiplier, ok := complexityMultiplier[cls.Complexity]
	if !ok {
		multiplier = 1.0
	}

	return clamp01(base * multiplier)
}

func fuseContent(chunks []Chunk) string {
	var sb strings.Builder
	for _, c := range chunks {
		sb.WriteString(c.Content)
		sb.WriteString(" ")
	}
	return sb.String()
}

// termOverlap is the fraction of non-stopword query tokens that appear in
// the fused context, case-insensitively.
func termOverlap(query, context string) float64 {
	lowerContext := strings.ToLower(context)
	tokens := strings.Fields(strings.ToLower(query))

	var significant, found int
	for _, tok := range tokens {
		tok = strings.Trim(tok, ".,!?;:\"'()")
		if tok == "" || stopwords[tok] {
			continue
		}
		significant++
		if strings.Contains(lowerContext, tok) {
			found++
		}
	}
	if significant == 0 {
		return 0
	}
	return float64(found) / float64(significant)
}

// coherenceAdjustment gives a small bonus to longer, structured answers and
// a larger penalty when the answer hedges with an uncertainty sentinel.
func coherenceAdjustment(text string) float64 {
	if uncertaintySentinels.MatchString(text) {
		return -maxUncertaintyPenalty
	}

	words := len(strings.Fields(text))
	structured := strings.Contains(text, "\n") || strings.Contains(text, "1.") || strings.Contains(text, "- ")

	bonus := 0.0
	switch {
	case words > 150:
		bonus = maxCoherenceBonus
	case words > 60:
		bonus = maxCoherenceBonus * 0.6
	case words > 20:
		bonus = maxCoherenceBonus * 0.3
	}
	if structured {
		bonus += maxCoherenceBonus * 0.2
	}
	if bonus > maxCoherenceBonus {
		bonus = maxCoherenceBonus
	}
	return bonus
}

func sourceDiversity(chunks []Chunk) float64 {
	if len(chunks) == 0 {
		return 0
	}
	seen := make(map[string]bool, len(chunks))
	for _, c := range chunks {
		seen[c.DocName] = true
	}
	return float64(len(seen)) / float64(len(chunks))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func max1(n int) int {
	if n < 1 {
		return 1
	}
	return n
}
