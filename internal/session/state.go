// Package session holds the per-game record the engine keeps between requests.
package session

import (
	"time"

	"github.com/thebtf/twentyq/pkg/similarity"
)

// QARecord is one answered question.
type QARecord struct {
	QuestionID int64     `json:"question_id"`
	Text       string    `json:"text"`
	Answer     string    `json:"answer"`
	Timestamp  time.Time `json:"timestamp"`
}

// State is the record of one game in progress.
// len(History) always equals AskedCount.
type State struct {
	ID                string     `json:"id"`
	Domain            string     `json:"domain"`
	UserID            *int64     `json:"user_id,omitempty"`
	History           []QARecord `json:"history"`
	AskedCount        int        `json:"asked_count"`
	AskedTexts        []string   `json:"asked_texts"`
	CurrentQuestionID int64      `json:"current_question_id,omitempty"`
	LastGuess         string     `json:"last_guess,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// Record appends an answered question.
func (s *State) Record(questionID int64, text, answer string, at time.Time) {
	s.History = append(s.History, QARecord{
		QuestionID: questionID,
		Text:       text,
		Answer:     answer,
		Timestamp:  at,
	})
	s.AskedCount = len(s.History)
}

// MarkAsked notes that text was served as the current question.
func (s *State) MarkAsked(questionID int64, text string) {
	s.AskedTexts = append(s.AskedTexts, text)
	s.CurrentQuestionID = questionID
}

// Asked reports whether text was already served this game.
func (s *State) Asked(text string) bool {
	for _, t := range s.AskedTexts {
		if t == text {
			return true
		}
	}
	return false
}

// CurrentText returns the text of the question served last, if any.
func (s *State) CurrentText() string {
	if len(s.AskedTexts) == 0 {
		return ""
	}
	return s.AskedTexts[len(s.AskedTexts)-1]
}

// Pattern maps each answered question id to its answer. Questions served
// without a persisted id (id 0) are left out.
func (s *State) Pattern() similarity.Pattern {
	p := make(similarity.Pattern, len(s.History))
	for _, r := range s.History {
		if r.QuestionID == 0 {
			continue
		}
		p[r.QuestionID] = r.Answer
	}
	return p
}

// QuestionIDs returns the distinct persisted question ids answered this game, in order.
func (s *State) QuestionIDs() []int64 {
	seen := make(map[int64]bool, len(s.History))
	ids := make([]int64, 0, len(s.History))
	for _, r := range s.History {
		if r.QuestionID == 0 || seen[r.QuestionID] {
			continue
		}
		seen[r.QuestionID] = true
		ids = append(ids, r.QuestionID)
	}
	return ids
}
