package gorm

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thebtf/twentyq/pkg/models"
)

// DefaultEffectiveness seeds a newly registered slot.
const DefaultEffectiveness = 0.5

// DomainCacheStore is the scored, position-indexed question bank per domain.
type DomainCacheStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewDomainCacheStore creates a new domain cache store.
func NewDomainCacheStore(store *Store) *DomainCacheStore {
	return &DomainCacheStore{db: store.DB, now: time.Now}
}

type slotRow struct {
	SlotID        int64
	QuestionID    int64
	Text          string
	Position      int
	UsageCount    int
	Effectiveness float64
}

// NextQuestion returns the best cached question for (domain, position) whose
// text is not in excluded, ranked by effectiveness then usage. A hit bumps
// the slot's usage and the question's last-used time. A miss returns (nil, nil).
func (s *DomainCacheStore) NextQuestion(ctx context.Context, domain string, position int, excluded []string) (*models.CachedQuestion, error) {
	query := s.db.WithContext(ctx).
		Table("domain_questions AS dq").
		Select("dq.id AS slot_id, dq.question_id, q.question_text AS text, dq.position, dq.usage_count, dq.effectiveness").
		Joins("JOIN questions q ON q.id = dq.question_id").
		Where("dq.domain = ? AND dq.position = ?", domain, position)
	if len(excluded) > 0 {
		query = query.Where("q.question_text NOT IN ?", excluded)
	}

	var row slotRow
	res := query.
		Order("dq.effectiveness DESC").
		Order("dq.usage_count DESC").
		Order("dq.id ASC").
		Limit(1).
		Scan(&row)
	if res.Error != nil {
		return nil, fmt.Errorf("select cached question: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&DomainQuestion{}).
			Where("id = ?", row.SlotID).
			UpdateColumn("usage_count", gorm.Expr("usage_count + ?", 1)).Error; err != nil {
			return err
		}
		return tx.Model(&Question{}).
			Where("id = ?", row.QuestionID).
			UpdateColumn("last_used", s.now()).Error
	})
	if err != nil {
		// The hit is still usable; only its bookkeeping was lost.
		log.Warn().Err(err).Str("domain", domain).Int64("question_id", row.QuestionID).Msg("Failed to record cache hit")
	} else {
		row.UsageCount++
	}

	return &models.CachedQuestion{
		SlotID:        row.SlotID,
		QuestionID:    row.QuestionID,
		Text:          row.Text,
		Position:      row.Position,
		UsageCount:    row.UsageCount,
		Effectiveness: row.Effectiveness,
	}, nil
}

// RegisterSlot places questionID at position for domain. Registering an
// existing slot is a no-op.
func (s *DomainCacheStore) RegisterSlot(ctx context.Context, domain string, questionID int64, position int) error {
	slot := &DomainQuestion{
		Domain:        domain,
		QuestionID:    questionID,
		Position:      position,
		Effectiveness: DefaultEffectiveness,
	}
	err := s.db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "domain"}, {Name: "question_id"}, {Name: "position"}},
			DoNothing: true,
		}).
		Create(slot).Error
	if err != nil {
		return fmt.Errorf("register slot: %w", err)
	}
	return nil
}

// AdjustEffectiveness adds delta to every slot of the given questions in
// domain. Scores are not clamped. It returns the number of slots changed.
func (s *DomainCacheStore) AdjustEffectiveness(ctx context.Context, domain string, questionIDs []int64, delta float64) (int64, error) {
	if len(questionIDs) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).
		Model(&DomainQuestion{}).
		Where("domain = ? AND question_id IN ?", domain, questionIDs).
		UpdateColumn("effectiveness", gorm.Expr("effectiveness + ?", delta))
	if res.Error != nil {
		return 0, fmt.Errorf("adjust effectiveness: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Slots lists a domain's slots ordered by position, then rank.
func (s *DomainCacheStore) Slots(ctx context.Context, domain string) ([]models.Slot, error) {
	var rows []DomainQuestion
	err := s.db.WithContext(ctx).
		Where("domain = ?", domain).
		Order("position ASC").
		Order("effectiveness DESC").
		Order("usage_count DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	slots := make([]models.Slot, len(rows))
	for i, r := range rows {
		slots[i] = models.Slot{
			Domain:        r.Domain,
			QuestionID:    r.QuestionID,
			Position:      r.Position,
			UsageCount:    r.UsageCount,
			Effectiveness: r.Effectiveness,
		}
	}
	return slots, nil
}
