package gorm

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thebtf/twentyq/pkg/models"
	"github.com/thebtf/twentyq/pkg/similarity"
)

// HistoryStore appends finished games and reads back their answer patterns.
type HistoryStore struct {
	db *gorm.DB
}

// NewHistoryStore creates a new history store.
func NewHistoryStore(store *Store) *HistoryStore {
	return &HistoryStore{db: store.DB}
}

// RecordGame stores a finished game and its answers in one transaction.
// Answers without a persisted question id are skipped.
func (s *HistoryStore) RecordGame(ctx context.Context, rec *models.GameRecord) error {
	completed := rec.CompletedAt
	if completed.IsZero() {
		completed = time.Now()
	}
	game := &GameHistory{
		ID:              rec.ID,
		UserID:          rec.UserID,
		TargetEntity:    rec.TargetEntity,
		Domain:          rec.Domain,
		WasCorrect:      rec.WasCorrect,
		QuestionsCount:  rec.QuestionsCount,
		DurationSeconds: durationSeconds(rec.Duration),
		CompletedAt:     completed,
	}

	questions := make([]GameQuestion, 0, len(rec.Answers))
	for _, a := range rec.Answers {
		if a.QuestionID == 0 {
			continue
		}
		questions = append(questions, GameQuestion{
			GameID:     rec.ID,
			QuestionID: a.QuestionID,
			Answer:     a.Answer,
			AskOrder:   a.AskOrder,
		})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(game).Error; err != nil {
			return err
		}
		if len(questions) == 0 {
			return nil
		}
		return tx.Create(&questions).Error
	})
	if err != nil {
		return fmt.Errorf("record game %s: %w", rec.ID, err)
	}
	return nil
}

// WinningPatterns returns the answer patterns of up to limit games in domain
// that correctly guessed entity, most recent first.
func (s *HistoryStore) WinningPatterns(ctx context.Context, domain, entity string, limit int) ([]similarity.Pattern, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&GameHistory{}).
		Where("domain = ? AND target_entity = ? AND was_correct = ?", domain, entity, true).
		Order("completed_at DESC").
		Limit(limitOrDefault(limit, 5)).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("select winning games: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	var rows []GameQuestion
	err = s.db.WithContext(ctx).
		Where("game_id IN ?", ids).
		Order("ask_order ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("select game questions: %w", err)
	}

	byGame := make(map[string]similarity.Pattern, len(ids))
	for _, r := range rows {
		p, ok := byGame[r.GameID]
		if !ok {
			p = make(similarity.Pattern)
			byGame[r.GameID] = p
		}
		p[r.QuestionID] = r.Answer
	}

	patterns := make([]similarity.Pattern, 0, len(ids))
	for _, id := range ids {
		if p, ok := byGame[id]; ok {
			patterns = append(patterns, p)
		}
	}
	return patterns, nil
}

// GetGame returns a stored game with its answers in ask order.
func (s *HistoryStore) GetGame(ctx context.Context, id string) (*models.GameRecord, error) {
	var game GameHistory
	err := s.db.WithContext(ctx).
		Preload("Questions", func(db *gorm.DB) *gorm.DB { return db.Order("ask_order ASC") }).
		Take(&game, "id = ?", id).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rec := &models.GameRecord{
		ID:             game.ID,
		UserID:         game.UserID,
		Domain:         game.Domain,
		TargetEntity:   game.TargetEntity,
		WasCorrect:     game.WasCorrect,
		QuestionsCount: game.QuestionsCount,
		Duration:       time.Duration(game.DurationSeconds * float64(time.Second)),
		CompletedAt:    game.CompletedAt,
		Answers:        make([]models.GameAnswer, len(game.Questions)),
	}
	for i, q := range game.Questions {
		rec.Answers[i] = models.GameAnswer{QuestionID: q.QuestionID, Answer: q.Answer, AskOrder: q.AskOrder}
	}
	return rec, nil
}
