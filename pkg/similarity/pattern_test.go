package similarity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScore(t *testing.T) {
	tests := []struct {
		name     string
		a        Pattern
		b        Pattern
		expected float64
	}{
		{
			name:     "identical patterns",
			a:        Pattern{1: "yes", 2: "no", 3: "yes"},
			b:        Pattern{1: "yes", 2: "no", 3: "yes"},
			expected: 1.0,
		},
		{
			name:     "disjoint question sets",
			a:        Pattern{1: "yes", 2: "no"},
			b:        Pattern{3: "yes", 4: "no"},
			expected: 0.0,
		},
		{
			name:     "empty patterns",
			a:        Pattern{},
			b:        Pattern{},
			expected: 0.0,
		},
		{
			name:     "historical subset of current",
			a:        Pattern{1: "yes", 2: "no", 3: "yes", 4: "no"},
			b:        Pattern{1: "yes", 2: "no", 3: "yes"},
			expected: 0.7*1.0 + 0.3*0.75, // 0.925
		},
		{
			name:     "half the shared answers disagree",
			a:        Pattern{1: "yes", 2: "yes"},
			b:        Pattern{1: "yes", 2: "no"},
			expected: 0.7*0.5 + 0.3*1.0,
		},
		{
			name:     "answers compared case-insensitively",
			a:        Pattern{1: "Yes", 2: " NO "},
			b:        Pattern{1: "yes", 2: "no"},
			expected: 1.0,
		},
		{
			name:     "one empty pattern",
			a:        Pattern{1: "yes"},
			b:        Pattern{},
			expected: 0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, Score(tt.a, tt.b), 1e-9)
		})
	}
}

func TestScore_Symmetric(t *testing.T) {
	pairs := [][2]Pattern{
		{{1: "yes", 2: "no", 3: "yes", 4: "no"}, {1: "yes", 2: "no", 3: "yes"}},
		{{1: "yes", 5: "no"}, {1: "no", 5: "no", 6: "yes", 7: "yes"}},
		{{1: "yes"}, {2: "yes"}},
		{{}, {9: "no"}},
	}

	for _, p := range pairs {
		assert.Equal(t, Score(p[0], p[1]), Score(p[1], p[0]))
	}
}

func TestScore_ThresholdScenario(t *testing.T) {
	historical := Pattern{1: "yes", 2: "no", 3: "yes"}
	current := Pattern{1: "yes", 2: "no", 3: "yes", 4: "no"}

	score := Score(current, historical)
	assert.InDelta(t, 0.925, score, 1e-9)
	assert.GreaterOrEqual(t, score, DefaultThreshold)
}

func TestBest(t *testing.T) {
	current := Pattern{1: "yes", 2: "no"}

	score, index := Best(current, nil)
	assert.Equal(t, 0.0, score)
	assert.Equal(t, -1, index)

	candidates := []Pattern{
		{3: "yes"},
		{1: "yes", 2: "yes"},
		{1: "yes", 2: "no"},
		{1: "yes", 2: "no"},
	}
	score, index = Best(current, candidates)
	assert.InDelta(t, 1.0, score, 1e-9)
	assert.Equal(t, 2, index, "first candidate reaching the best score wins")
}
