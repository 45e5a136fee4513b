// Package game composes the quota, cache, history and generation layers into
// the question, guess and feedback operations of a 20-questions game.
package game

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/twentyq/internal/llm"
	"github.com/thebtf/twentyq/internal/session"
	"github.com/thebtf/twentyq/pkg/models"
	"github.com/thebtf/twentyq/pkg/similarity"
)

var (
	// ErrNotFound is returned for unknown sessions and questions.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput is returned for malformed caller input.
	ErrInvalidInput = errors.New("invalid input")
)

// Sessions keeps per-game state between requests.
type Sessions interface {
	Create(ctx context.Context, domain string, userID *int64) (*session.State, error)
	Get(ctx context.Context, id string) (*session.State, error)
	Save(ctx context.Context, st *session.State) error
	Delete(ctx context.Context, id string) error
}

// QuestionBank persists question texts.
type QuestionBank interface {
	FindOrCreate(ctx context.Context, text string, origin models.QuestionOrigin) (int64, error)
	GetText(ctx context.Context, id int64) (string, error)
}

// DomainCache is the scored question bank per domain and position.
type DomainCache interface {
	NextQuestion(ctx context.Context, domain string, position int, excluded []string) (*models.CachedQuestion, error)
	RegisterSlot(ctx context.Context, domain string, questionID int64, position int) error
	AdjustEffectiveness(ctx context.Context, domain string, questionIDs []int64, delta float64) (int64, error)
}

// GuessCache tallies guessed entities per domain.
type GuessCache interface {
	TopGuesses(ctx context.Context, domain string, limit int) ([]models.GuessEntry, error)
	RecordOutcome(ctx context.Context, domain, entity string, correct bool) error
}

// History stores finished games.
type History interface {
	RecordGame(ctx context.Context, rec *models.GameRecord) error
	WinningPatterns(ctx context.Context, domain, entity string, limit int) ([]similarity.Pattern, error)
}

// Generator produces questions and guesses from prompts.
type Generator interface {
	GenerateQuestion(ctx context.Context, prompt string) (string, error)
	GenerateGuess(ctx context.Context, prompt string) (string, error)
}

// Domains canonicalizes domain names and knows their static fallback guesses.
type Domains interface {
	Canonical(name string) string
	FallbackGuess(domain string) string
}

// Config tunes the engine.
type Config struct {
	GuessAfter          int     // answers before ShouldGuess is set (default 8)
	CandidateLimit      int     // guess entries considered for pattern matching (default 10)
	HistoryPerCandidate int     // winning games fetched per candidate (default 5)
	MatchThreshold      float64 // minimum similarity to trust a historical match (default 0.7)
	FetchConcurrency    int     // parallel history fetches (default 4)
	TranscriptBudget    int     // token budget of transcripts in prompts
	NearDuplicate       float64 // term overlap at which a generated question counts as already asked
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		GuessAfter:          8,
		CandidateLimit:      10,
		HistoryPerCandidate: 5,
		MatchThreshold:      similarity.DefaultThreshold,
		FetchConcurrency:    4,
		TranscriptBudget:    llm.DefaultTranscriptBudget,
		NearDuplicate:       similarity.DefaultNearDuplicate,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.GuessAfter <= 0 {
		c.GuessAfter = d.GuessAfter
	}
	if c.CandidateLimit <= 0 {
		c.CandidateLimit = d.CandidateLimit
	}
	if c.HistoryPerCandidate <= 0 {
		c.HistoryPerCandidate = d.HistoryPerCandidate
	}
	if c.MatchThreshold <= 0 {
		c.MatchThreshold = d.MatchThreshold
	}
	if c.FetchConcurrency <= 0 {
		c.FetchConcurrency = d.FetchConcurrency
	}
	if c.NearDuplicate <= 0 {
		c.NearDuplicate = d.NearDuplicate
	}
	return c
}

// Deps are the collaborators of an Engine.
type Deps struct {
	Sessions  Sessions
	Questions QuestionBank
	Cache     DomainCache
	Guesses   GuessCache
	History   History
	Generator Generator
	Domains   Domains
}

// Engine runs games.
type Engine struct {
	Deps
	cfg     Config
	now     func() time.Time
	metrics *metrics
}

// New creates an engine.
func New(deps Deps, cfg Config) *Engine {
	return &Engine{
		Deps:    deps,
		cfg:     cfg.withDefaults(),
		now:     time.Now,
		metrics: newMetrics(),
	}
}

// QuestionResult is the question served to the player.
type QuestionResult struct {
	QuestionID  int64  `json:"question_id"`
	Text        string `json:"question_text"`
	AskedCount  int    `json:"questions_asked"`
	ShouldGuess bool   `json:"should_guess"`
	Tier        Tier   `json:"tier"`
}

// AnswerResult reports progress after an answer.
type AnswerResult struct {
	AskedCount  int  `json:"questions_asked"`
	ShouldGuess bool `json:"should_guess"`
}

// GuessResult is the engine's guess.
type GuessResult struct {
	Entity     string      `json:"guess"`
	AskedCount int         `json:"questions_asked"`
	Source     GuessSource `json:"source"`
	Score      float64     `json:"score,omitempty"`
}

// StartSession begins a game in domain and returns its id.
func (e *Engine) StartSession(ctx context.Context, domain string, userID *int64) (string, error) {
	d := e.Domains.Canonical(domain)
	if d == "" {
		return "", fmt.Errorf("%w: domain is required", ErrInvalidInput)
	}
	st, err := e.Sessions.Create(ctx, d, userID)
	if err != nil {
		return "", fmt.Errorf("start session: %w", err)
	}
	log.Info().Str("session", st.ID).Str("domain", d).Msg("Game started")
	return st.ID, nil
}

// NextQuestion serves the next question of session id. Only an unknown
// session is an error; every other failure falls back to a lower tier.
func (e *Engine) NextQuestion(ctx context.Context, id string) (*QuestionResult, error) {
	st, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}

	questionID, text, tier := e.selectQuestion(ctx, st)
	st.MarkAsked(questionID, text)
	if err := e.Sessions.Save(ctx, st); err != nil {
		log.Warn().Err(err).Str("session", id).Msg("Failed to save session after question")
	}
	e.metrics.question(ctx, tier)

	log.Debug().
		Str("session", id).
		Str("domain", st.Domain).
		Str("tier", string(tier)).
		Int64("question_id", questionID).
		Msg("Question served")

	return &QuestionResult{
		QuestionID:  questionID,
		Text:        text,
		AskedCount:  st.AskedCount,
		ShouldGuess: st.AskedCount >= e.cfg.GuessAfter,
		Tier:        tier,
	}, nil
}

// SubmitAnswer records the answer to questionID.
func (e *Engine) SubmitAnswer(ctx context.Context, id string, questionID int64, answer string) (*AnswerResult, error) {
	if strings.TrimSpace(answer) == "" {
		return nil, fmt.Errorf("%w: answer is required", ErrInvalidInput)
	}
	st, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}

	var text string
	if questionID == st.CurrentQuestionID && st.CurrentText() != "" {
		text = st.CurrentText()
	} else {
		text, err = e.Questions.GetText(ctx, questionID)
		if errors.Is(err, models.ErrQuestionNotFound) {
			return nil, fmt.Errorf("%w: question %d", ErrNotFound, questionID)
		}
		if err != nil {
			return nil, fmt.Errorf("load question %d: %w", questionID, err)
		}
	}

	st.Record(questionID, text, NormalizeAnswer(answer), e.now())
	if err := e.Sessions.Save(ctx, st); err != nil {
		return nil, fmt.Errorf("save answer: %w", err)
	}

	return &AnswerResult{
		AskedCount:  st.AskedCount,
		ShouldGuess: st.AskedCount >= e.cfg.GuessAfter,
	}, nil
}

// SubmitResult applies end-of-game feedback, archives the transcript and
// ends the session. Storage failures are logged, not returned.
func (e *Engine) SubmitResult(ctx context.Context, id string, wasCorrect bool, revealed string) error {
	st, err := e.load(ctx, id)
	if err != nil {
		return err
	}
	logger := log.With().Str("session", id).Str("domain", st.Domain).Logger()

	delta := -0.05
	if wasCorrect {
		delta = 0.1
	}
	if n, err := e.Cache.AdjustEffectiveness(ctx, st.Domain, st.QuestionIDs(), delta); err != nil {
		logger.Warn().Err(err).Msg("Failed to adjust question effectiveness")
	} else {
		logger.Debug().Int64("slots", n).Float64("delta", delta).Msg("Adjusted question effectiveness")
	}

	entity := strings.TrimSpace(revealed)
	if entity == "" && wasCorrect {
		entity = st.LastGuess
	}
	if entity != "" {
		if err := e.Guesses.RecordOutcome(ctx, st.Domain, entity, wasCorrect); err != nil {
			logger.Warn().Err(err).Str("entity", entity).Msg("Failed to record guess outcome")
		}
	}

	now := e.now()
	rec := &models.GameRecord{
		ID:             st.ID,
		UserID:         st.UserID,
		Domain:         st.Domain,
		TargetEntity:   entity,
		WasCorrect:     wasCorrect,
		QuestionsCount: st.AskedCount,
		Duration:       now.Sub(st.CreatedAt),
		CompletedAt:    now,
		Answers:        make([]models.GameAnswer, len(st.History)),
	}
	for i, r := range st.History {
		rec.Answers[i] = models.GameAnswer{QuestionID: r.QuestionID, Answer: r.Answer, AskOrder: i + 1}
	}
	if err := e.History.RecordGame(ctx, rec); err != nil {
		logger.Warn().Err(err).Msg("Failed to archive game")
	}

	if err := e.Sessions.Delete(ctx, id); err != nil {
		logger.Warn().Err(err).Msg("Failed to delete session")
	}

	logger.Info().Bool("correct", wasCorrect).Int("questions", st.AskedCount).Msg("Game finished")
	return nil
}

func (e *Engine) load(ctx context.Context, id string) (*session.State, error) {
	st, err := e.Sessions.Get(ctx, id)
	if errors.Is(err, session.ErrSessionNotFound) {
		return nil, fmt.Errorf("%w: session %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return st, nil
}

func turns(st *session.State) []llm.Turn {
	t := make([]llm.Turn, len(st.History))
	for i, r := range st.History {
		t[i] = llm.Turn{Question: r.Text, Answer: r.Answer}
	}
	return t
}
