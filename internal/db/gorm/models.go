package gorm

import (
	"time"

	"github.com/thebtf/twentyq/pkg/models"
)

// GORM Models

// Question is a persisted question text. Text is globally unique.
type Question struct {
	ID           int64                 `gorm:"primaryKey;autoIncrement"`
	QuestionText string                `gorm:"column:question_text;type:text;uniqueIndex;not null"`
	Origin       models.QuestionOrigin `gorm:"type:varchar(32);default:'ai_generated';not null"`
	CreatedAt    time.Time             `gorm:"not null"`
	LastUsed     *time.Time
}

func (Question) TableName() string { return "questions" }

// DomainQuestion places a question at a position of a domain's question order.
type DomainQuestion struct {
	ID            int64   `gorm:"primaryKey;autoIncrement"`
	Domain        string  `gorm:"type:varchar(128);not null;uniqueIndex:idx_domain_questions_slot,priority:1;index:idx_domain_questions_lookup,priority:1"`
	QuestionID    int64   `gorm:"not null;uniqueIndex:idx_domain_questions_slot,priority:2"`
	Position      int     `gorm:"not null;uniqueIndex:idx_domain_questions_slot,priority:3;index:idx_domain_questions_lookup,priority:2"`
	UsageCount    int     `gorm:"default:0;not null"`
	Effectiveness float64 `gorm:"default:0.5;not null;index:idx_domain_questions_effectiveness,sort:desc"`
	CreatedAt     time.Time

	Question Question `gorm:"foreignKey:QuestionID;constraint:OnDelete:CASCADE"`
}

func (DomainQuestion) TableName() string { return "domain_questions" }

// DomainGuess tallies outcomes of guessing an entity in a domain.
type DomainGuess struct {
	ID           int64  `gorm:"primaryKey;autoIncrement"`
	Domain       string `gorm:"type:varchar(128);not null;uniqueIndex:idx_domain_guesses_entity,priority:1;index:idx_domain_guesses_success,priority:1"`
	EntityName   string `gorm:"type:varchar(255);not null;uniqueIndex:idx_domain_guesses_entity,priority:2"`
	SuccessCount int    `gorm:"default:0;not null;index:idx_domain_guesses_success,priority:2,sort:desc"`
	FailCount    int    `gorm:"default:0;not null"`
	CreatedAt    time.Time
}

func (DomainGuess) TableName() string { return "domain_guesses" }

// GameHistory is the immutable outcome of a finished game. ID is the session id.
type GameHistory struct {
	ID              string    `gorm:"primaryKey;type:varchar(64)"`
	UserID          *int64    `gorm:"index"`
	TargetEntity    string    `gorm:"type:varchar(255);index:idx_game_history_target,priority:2"`
	Domain          string    `gorm:"type:varchar(128);not null;index:idx_game_history_target,priority:1"`
	WasCorrect      bool      `gorm:"not null;index:idx_game_history_target,priority:3"`
	QuestionsCount  int       `gorm:"not null"`
	DurationSeconds float64   `gorm:"column:duration"`
	CompletedAt     time.Time `gorm:"not null;index:idx_game_history_completed,sort:desc"`

	Questions []GameQuestion `gorm:"foreignKey:GameID;constraint:OnDelete:CASCADE"`
}

func (GameHistory) TableName() string { return "game_history" }

// GameQuestion is one answered question of a finished game.
type GameQuestion struct {
	ID         int64  `gorm:"primaryKey;autoIncrement"`
	GameID     string `gorm:"type:varchar(64);not null;index:idx_game_questions_game,priority:1"`
	QuestionID int64  `gorm:"not null"`
	Answer     string `gorm:"type:varchar(32);not null"`
	AskOrder   int    `gorm:"not null;index:idx_game_questions_game,priority:2"`
	CreatedAt  time.Time
}

func (GameQuestion) TableName() string { return "game_questions" }
