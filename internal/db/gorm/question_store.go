package gorm

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thebtf/twentyq/pkg/models"
)

// QuestionStore provides question-related database operations using GORM.
type QuestionStore struct {
	db *gorm.DB
}

// NewQuestionStore creates a new question store.
func NewQuestionStore(store *Store) *QuestionStore {
	return &QuestionStore{db: store.DB}
}

// FindOrCreate returns the id of text, inserting it with origin when absent.
// Concurrent inserts of the same text resolve to the same row.
func (s *QuestionStore) FindOrCreate(ctx context.Context, text string, origin models.QuestionOrigin) (int64, error) {
	if id, err := s.findID(ctx, text); err != nil || id != 0 {
		return id, err
	}

	q := &Question{QuestionText: text, Origin: origin}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "question_text"}},
			DoNothing: true,
		}).
		Create(q).Error
	if err != nil {
		return 0, fmt.Errorf("insert question: %w", err)
	}
	if q.ID != 0 {
		return q.ID, nil
	}

	// Lost the race: another writer inserted the text first.
	id, err := s.findID(ctx, text)
	if err != nil {
		return 0, err
	}
	if id == 0 {
		return 0, fmt.Errorf("question %q vanished after insert", text)
	}
	return id, nil
}

func (s *QuestionStore) findID(ctx context.Context, text string) (int64, error) {
	var q Question
	err := s.db.WithContext(ctx).Select("id").Where("question_text = ?", text).Take(&q).Error
	if isNotFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("lookup question: %w", err)
	}
	return q.ID, nil
}

// GetQuestion retrieves a question by id. Missing ids return models.ErrQuestionNotFound.
func (s *QuestionStore) GetQuestion(ctx context.Context, id int64) (*models.Question, error) {
	var q Question
	err := s.db.WithContext(ctx).First(&q, id).Error
	if isNotFound(err) {
		return nil, models.ErrQuestionNotFound
	}
	if err != nil {
		return nil, err
	}
	return toModelQuestion(&q), nil
}

// GetText returns the text of question id.
func (s *QuestionStore) GetText(ctx context.Context, id int64) (string, error) {
	q, err := s.GetQuestion(ctx, id)
	if err != nil {
		return "", err
	}
	return q.Text, nil
}
