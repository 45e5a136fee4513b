package gorm

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/thebtf/twentyq/pkg/models"
)

// isNotFound reports whether err is GORM's record-not-found error.
func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// limitOrDefault returns limit, or def when limit is not positive.
func limitOrDefault(limit, def int) int {
	if limit <= 0 {
		return def
	}
	return limit
}

func toModelQuestion(q *Question) *models.Question {
	return &models.Question{
		ID:        q.ID,
		Text:      q.QuestionText,
		Origin:    q.Origin,
		CreatedAt: q.CreatedAt,
		LastUsed:  q.LastUsed,
	}
}

func toModelGuess(g *DomainGuess) models.GuessEntry {
	return models.GuessEntry{
		Domain:       g.Domain,
		EntityName:   g.EntityName,
		SuccessCount: g.SuccessCount,
		FailCount:    g.FailCount,
	}
}

func durationSeconds(d time.Duration) float64 {
	return d.Seconds()
}
