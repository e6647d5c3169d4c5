// Package similarity provides pluggable text similarity strategies used to
// fingerprint and cluster memory items. All strategies are deterministic:
// the same pair of inputs always yields the same score.
package similarity

import (
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// Strategy scores how close two texts are in meaning, in [0, 1].
type Strategy interface {
	Name() string
	Score(a, b string) float64
}

// New returns the strategy registered under name.
func New(name string) (Strategy, error) {
	switch name {
	case "jaccard", "":
		return &Jaccard{}, nil
	case "levenshtein":
		return &Levenshtein{}, nil
	default:
		return nil, goerr.New("unknown similarity strategy", goerr.V("strategy", name))
	}
}

// Jaccard scores texts by the Jaccard index of their extracted term sets.
// Wording differences collapse as long as the meaningful terms overlap.
type Jaccard struct{}

func (j *Jaccard) Name() string { return "jaccard" }

func (j *Jaccard) Score(a, b string) float64 {
	termsA, termsB := Terms(a), Terms(b)
	if len(termsA) == 0 && len(termsB) == 0 {
		// no meaningful terms to compare; only literal matches count
		if normalize(a) == normalize(b) {
			return 1.0
		}
		return 0.0
	}
	return JaccardIndex(termsA, termsB)
}

func normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// Terms extracts meaningful lowercase terms from text for set comparison.
// Short words and stop words are dropped.
func Terms(text string) map[string]bool {
	terms := make(map[string]bool)

	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '.' || r == '/')
	})

	for _, word := range words {
		if len(word) >= 3 && !stopWords[word] {
			terms[word] = true
		}
	}
	return terms
}

// JaccardIndex calculates the Jaccard similarity between two term sets.
// Returns a value between 0 (no overlap) and 1 (identical). Empty sets
// carry no signal, so they never match anything.
func JaccardIndex(set1, set2 map[string]bool) float64 {
	if len(set1) == 0 || len(set2) == 0 {
		return 0.0
	}

	intersection := 0
	for term := range set1 {
		if set2[term] {
			intersection++
		}
	}

	union := len(set1) + len(set2) - intersection
	if union == 0 {
		return 0.0
	}
	return float64(intersection) / float64(union)
}

var stopWords = map[string]bool{
	"the": true, "and": true, "are": true, "was": true, "were": true,
	"been": true, "being": true, "have": true, "has": true, "had": true,
	"does": true, "did": true, "will": true, "would": true, "could": true,
	"should": true, "may": true, "might": true, "must": true, "shall": true,
	"this": true, "that": true, "these": true, "those": true, "but": true,
	"for": true, "from": true, "with": true, "about": true, "into": true,
	"its": true, "which": true, "who": true, "what": true, "when": true,
	"where": true, "how": true, "why": true, "not": true, "you": true,
	"use": true, "using": true, "used": true,
}
