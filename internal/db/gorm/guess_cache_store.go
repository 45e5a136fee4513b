package gorm

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thebtf/twentyq/pkg/models"
)

// GuessCacheStore keeps per-domain success and fail tallies of guessed entities.
type GuessCacheStore struct {
	db *gorm.DB
}

// NewGuessCacheStore creates a new guess cache store.
func NewGuessCacheStore(store *Store) *GuessCacheStore {
	return &GuessCacheStore{db: store.DB}
}

// TopGuesses returns up to limit entities of domain that were guessed
// correctly at least once, most successful first.
func (s *GuessCacheStore) TopGuesses(ctx context.Context, domain string, limit int) ([]models.GuessEntry, error) {
	var rows []DomainGuess
	err := s.db.WithContext(ctx).
		Where("domain = ? AND success_count > 0", domain).
		Order("success_count DESC").
		Order("id ASC").
		Limit(limitOrDefault(limit, 10)).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("top guesses: %w", err)
	}

	entries := make([]models.GuessEntry, len(rows))
	for i := range rows {
		entries[i] = toModelGuess(&rows[i])
	}
	return entries, nil
}

// RecordOutcome adds one success or one failure to (domain, entity),
// creating the entry with the other tally at zero.
func (s *GuessCacheStore) RecordOutcome(ctx context.Context, domain, entity string, correct bool) error {
	entry := &DomainGuess{Domain: domain, EntityName: entity}
	column := "fail_count"
	if correct {
		entry.SuccessCount = 1
		column = "success_count"
	} else {
		entry.FailCount = 1
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "domain"}, {Name: "entity_name"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				column: gorm.Expr("domain_guesses." + column + " + 1"),
			}),
		}).
		Create(entry).Error
	if err != nil {
		return fmt.Errorf("record guess outcome: %w", err)
	}
	return nil
}

// GetGuess returns the entry for (domain, entity), or (nil, nil) when absent.
func (s *GuessCacheStore) GetGuess(ctx context.Context, domain, entity string) (*models.GuessEntry, error) {
	var row DomainGuess
	err := s.db.WithContext(ctx).
		Where("domain = ? AND entity_name = ?", domain, entity).
		Take(&row).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	entry := toModelGuess(&row)
	return &entry, nil
}
