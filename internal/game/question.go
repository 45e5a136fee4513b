package game

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/twentyq/internal/llm"
	"github.com/thebtf/twentyq/internal/session"
	"github.com/thebtf/twentyq/pkg/models"
	"github.com/thebtf/twentyq/pkg/similarity"
)

// Tier names the stage of the question fallback chain that answered.
type Tier string

const (
	TierCache     Tier = "cache"
	TierGenerated Tier = "ai_generated"
	TierEmergency Tier = "emergency"
)

var errAlreadyAsked = errors.New("question already asked this game")

// selectQuestion walks cache, generation and emergency tiers; the first to
// produce a question wins. The emergency tier cannot fail.
func (e *Engine) selectQuestion(ctx context.Context, st *session.State) (int64, string, Tier) {
	position := st.AskedCount

	if q := e.cachedQuestion(ctx, st, position); q != nil {
		return q.QuestionID, q.Text, TierCache
	}

	id, text, err := e.generatedQuestion(ctx, st, position)
	if err == nil {
		return id, text, TierGenerated
	}
	log.Debug().Err(err).Str("session", st.ID).Msg("Generation tier failed, using emergency question")

	id, text = e.emergencyQuestion(ctx, st, position)
	return id, text, TierEmergency
}

func (e *Engine) cachedQuestion(ctx context.Context, st *session.State, position int) *models.CachedQuestion {
	q, err := e.Cache.NextQuestion(ctx, st.Domain, position, st.AskedTexts)
	if err != nil {
		log.Warn().Err(err).Str("domain", st.Domain).Int("position", position).Msg("Cache lookup failed")
		return nil
	}
	return q
}

func (e *Engine) generatedQuestion(ctx context.Context, st *session.State, position int) (int64, string, error) {
	prompt := llm.QuestionPrompt(st.Domain, turns(st), e.cfg.TranscriptBudget)
	text, err := e.Generator.GenerateQuestion(ctx, prompt)
	if err != nil {
		return 0, "", err
	}
	if st.Asked(text) || similarity.IsSimilarToAny(text, st.AskedTexts, e.cfg.NearDuplicate) {
		return 0, "", errAlreadyAsked
	}

	id, err := e.Questions.FindOrCreate(ctx, text, models.OriginGenerated)
	if err != nil {
		log.Warn().Err(err).Str("domain", st.Domain).Msg("Failed to persist generated question")
		return 0, "", fmt.Errorf("persist generated question: %w", err)
	}
	e.registerSlot(ctx, st.Domain, id, position)
	return id, text, nil
}

var emergencyTemplates = []string{
	"Is this %s considered popular?",
	"Is this %s something most people know about?",
	"Is this %s commonly used?",
	"Has this %s existed for more than %d years?",
	"Is this %s found in many countries?",
}

// EmergencyQuestion returns the n-th templated question for domain. The
// template with a year count yields a new text for every n it is picked at.
func EmergencyQuestion(domain string, n int) string {
	tmpl := emergencyTemplates[n%len(emergencyTemplates)]
	if n%len(emergencyTemplates) == 3 {
		return fmt.Sprintf(tmpl, domain, 10+n)
	}
	return fmt.Sprintf(tmpl, domain)
}

// emergencyQuestion picks the first template text not yet asked this game and
// persists it best effort. The id is 0 when it could not be persisted.
func (e *Engine) emergencyQuestion(ctx context.Context, st *session.State, position int) (int64, string) {
	n := len(st.AskedTexts)
	text := EmergencyQuestion(st.Domain, n)
	for st.Asked(text) {
		n++
		text = EmergencyQuestion(st.Domain, n)
	}

	id, err := e.Questions.FindOrCreate(ctx, text, models.OriginEmergency)
	if err != nil {
		log.Warn().Err(err).Str("domain", st.Domain).Msg("Failed to persist emergency question")
		return 0, text
	}
	e.registerSlot(ctx, st.Domain, id, position)
	return id, text
}

func (e *Engine) registerSlot(ctx context.Context, domain string, questionID int64, position int) {
	if err := e.Cache.RegisterSlot(ctx, domain, questionID, position); err != nil {
		log.Warn().Err(err).
			Str("domain", domain).
			Int64("question_id", questionID).
			Int("position", position).
			Msg("Failed to register cache slot")
	}
}
