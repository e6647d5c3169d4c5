package similarity

import (
	"github.com/agnivade/levenshtein"
)

// Levenshtein scores texts by normalized edit distance over the lowercased,
// whitespace-collapsed forms. Stricter than Jaccard: word order matters.
type Levenshtein struct{}

func (l *Levenshtein) Name() string { return "levenshtein" }

func (l *Levenshtein) Score(a, b string) float64 {
	na := normalize(a)
	nb := normalize(b)
	if na == nb {
		return 1.0
	}
	if na == "" || nb == "" {
		return 0.0
	}

	dist := levenshtein.ComputeDistance(na, nb)
	longest := len([]rune(na))
	if n := len([]rune(nb)); n > longest {
		longest = n
	}
	return 1.0 - float64(dist)/float64(longest)
}
