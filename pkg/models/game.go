// Package models contains domain models for twentyq.
package models

import (
	"errors"
	"time"
)

// ErrQuestionNotFound is returned when a question id has no stored text.
var ErrQuestionNotFound = errors.New("question not found")

// QuestionOrigin records which tier first produced a question text.
type QuestionOrigin string

const (
	OriginGenerated QuestionOrigin = "ai_generated"
	OriginEmergency QuestionOrigin = "emergency"
	OriginSeed      QuestionOrigin = "seed"
)

// Question is a persisted question text. Text is globally unique.
type Question struct {
	CreatedAt time.Time      `json:"created_at"`
	LastUsed  *time.Time     `json:"last_used,omitempty"`
	Text      string         `json:"question_text"`
	Origin    QuestionOrigin `json:"origin"`
	ID        int64          `json:"id"`
}

// CachedQuestion is a domain cache hit: the question plus the slot it came from.
type CachedQuestion struct {
	Text          string  `json:"question_text"`
	SlotID        int64   `json:"slot_id"`
	QuestionID    int64   `json:"question_id"`
	Position      int     `json:"position"`
	UsageCount    int     `json:"usage_count"`
	Effectiveness float64 `json:"effectiveness"`
}

// Slot is a (domain, position) -> question association with its score.
type Slot struct {
	Domain        string  `json:"domain"`
	QuestionID    int64   `json:"question_id"`
	Position      int     `json:"position"`
	UsageCount    int     `json:"usage_count"`
	Effectiveness float64 `json:"effectiveness"`
}

// GuessEntry tallies how often an entity was the answer in a domain.
type GuessEntry struct {
	Domain       string `json:"domain"`
	EntityName   string `json:"entity_name"`
	SuccessCount int    `json:"success_count"`
	FailCount    int    `json:"fail_count"`
}

// GameAnswer is one answered question of a finished game.
type GameAnswer struct {
	Answer     string `json:"answer"`
	QuestionID int64  `json:"question_id"`
	AskOrder   int    `json:"ask_order"`
}

// GameRecord is the immutable transcript of a finished game.
type GameRecord struct {
	CompletedAt    time.Time     `json:"completed_at"`
	UserID         *int64        `json:"user_id,omitempty"`
	ID             string        `json:"id"`
	Domain         string        `json:"domain"`
	TargetEntity   string        `json:"target_entity"`
	Answers        []GameAnswer  `json:"answers"`
	Duration       time.Duration `json:"duration"`
	QuestionsCount int           `json:"questions_count"`
	WasCorrect     bool          `json:"was_correct"`
}
