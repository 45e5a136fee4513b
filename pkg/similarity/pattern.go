// Package similarity scores how closely two games' answer patterns agree.
package similarity

import "strings"

const (
	// MatchWeight weighs the fraction of agreeing answers on shared questions.
	MatchWeight = 0.7
	// CoverageWeight weighs how many questions the two patterns share.
	CoverageWeight = 0.3
	// DefaultThreshold is the score at which a historical game is trusted as a guess.
	DefaultThreshold = 0.7
)

// Pattern maps a question id to the answer given in one game.
type Pattern map[int64]string

// Score returns the similarity between two patterns in [0, 1].
//
// Over the question ids both patterns share, the fraction of matching answers
// (case-insensitive) is weighted with MatchWeight, and the share of the larger
// pattern those ids cover is weighted with CoverageWeight. Patterns with no
// question in common score 0. Score is symmetric.
func Score(a, b Pattern) float64 {
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}

	common, matches := 0, 0
	for id, answer := range small {
		other, ok := large[id]
		if !ok {
			continue
		}
		common++
		if strings.EqualFold(strings.TrimSpace(answer), strings.TrimSpace(other)) {
			matches++
		}
	}
	if common == 0 {
		return 0.0
	}

	agreement := float64(matches) / float64(common)
	coverage := float64(common) / float64(len(large))

	return agreement*MatchWeight + coverage*CoverageWeight
}

// Best returns the highest score of current against any of the candidates,
// and the index of the first candidate reaching it. Index is -1 when
// candidates is empty.
func Best(current Pattern, candidates []Pattern) (float64, int) {
	best, index := 0.0, -1
	for i, candidate := range candidates {
		score := Score(current, candidate)
		if index == -1 || score > best {
			best, index = score, i
		}
	}
	return best, index
}
