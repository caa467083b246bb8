// Package fuzzy ranks candidate strings by normalized Levenshtein similarity.
//
// It backs two resolution paths: the fuzzy rung of intent matching, where an
// utterance is compared against command names, and lookup canonicalization,
// where a raw field value is compared against the known values of a lookup
// source. Comparison is case-insensitive and treats spaces and underscores as
// the same character, so "cancel order" and "cancel_order" are identical.
package fuzzy

import (
	"sort"
	"strings"

	"github.com/antzucaro/matchr"
)

// Match is one scored candidate.
type Match struct {
	// Value is the candidate in its original spelling.
	Value string

	// Score is the normalized similarity in [0, 1]; 1 means equal after
	// normalization.
	Score float64
}

// Normalize lowercases s, trims surrounding whitespace, and maps spaces to
// underscores.
func Normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.ReplaceAll(s, " ", "_")
}

// Similarity returns 1 minus the Levenshtein distance of the normalized
// inputs divided by the longer length. Two empty strings score 1.
func Similarity(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	if na == nb {
		return 1
	}
	longest := len([]rune(na))
	if l := len([]rune(nb)); l > longest {
		longest = l
	}
	if longest == 0 {
		return 1
	}
	dist := matchr.Levenshtein(na, nb)
	return 1 - float64(dist)/float64(longest)
}

// Best returns the candidate most similar to input. ok is false when
// candidates is empty.
func Best(input string, candidates []string) (best Match, ok bool) {
	for _, c := range candidates {
		score := Similarity(input, c)
		if !ok || score > best.Score {
			best = Match{Value: c, Score: score}
			ok = true
		}
	}
	return best, ok
}

// Top returns up to n candidates ranked by similarity to input, best first.
// Ties break alphabetically so results are deterministic.
func Top(input string, candidates []string, n int) []Match {
	if n <= 0 || len(candidates) == 0 {
		return nil
	}
	matches := make([]Match, 0, len(candidates))
	for _, c := range candidates {
		matches = append(matches, Match{Value: c, Score: Similarity(input, c)})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Value < matches[j].Value
	})
	if len(matches) > n {
		matches = matches[:n]
	}
	return matches
}
