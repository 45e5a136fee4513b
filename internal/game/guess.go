package game

import (
	"context"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/thebtf/twentyq/internal/llm"
	"github.com/thebtf/twentyq/internal/session"
	"github.com/thebtf/twentyq/pkg/similarity"
)

// GuessSource names how a guess was reached.
type GuessSource string

const (
	SourcePatternMatch GuessSource = "pattern_match"
	SourceGenerated    GuessSource = "ai_generated"
	SourceStatic       GuessSource = "static"
)

// MakeGuess guesses the entity of session id. A close enough historical
// game wins without generation; otherwise generation, then the domain's
// static guess, are tried.
func (e *Engine) MakeGuess(ctx context.Context, id string) (*GuessResult, error) {
	st, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}

	result := &GuessResult{AskedCount: st.AskedCount}
	if entity, score, ok := e.matchHistory(ctx, st); ok {
		result.Entity, result.Source, result.Score = entity, SourcePatternMatch, score
	} else if entity, err := e.Generator.GenerateGuess(ctx, llm.GuessPrompt(st.Domain, turns(st), e.cfg.TranscriptBudget)); err == nil {
		result.Entity, result.Source = entity, SourceGenerated
	} else {
		log.Debug().Err(err).Str("session", id).Msg("Guess generation failed, using static guess")
		result.Entity, result.Source = e.Domains.FallbackGuess(st.Domain), SourceStatic
	}
	result.Entity = capitalize(result.Entity)

	st.LastGuess = result.Entity
	if err := e.Sessions.Save(ctx, st); err != nil {
		log.Warn().Err(err).Str("session", id).Msg("Failed to save session after guess")
	}
	e.metrics.guess(ctx, result.Source)

	log.Info().
		Str("session", id).
		Str("domain", st.Domain).
		Str("source", string(result.Source)).
		Str("guess", result.Entity).
		Msg("Guess made")
	return result, nil
}

// matchHistory scores the session's answers against winning games of the
// domain's most successful entities and returns the best one at or above the
// match threshold.
func (e *Engine) matchHistory(ctx context.Context, st *session.State) (string, float64, bool) {
	current := st.Pattern()
	if len(current) == 0 {
		return "", 0, false
	}

	candidates, err := e.Guesses.TopGuesses(ctx, st.Domain, e.cfg.CandidateLimit)
	if err != nil {
		log.Warn().Err(err).Str("domain", st.Domain).Msg("Failed to load guess candidates")
		return "", 0, false
	}
	if len(candidates) == 0 {
		return "", 0, false
	}

	scores := make([]float64, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.FetchConcurrency)
	for i, c := range candidates {
		g.Go(func() error {
			patterns, err := e.History.WinningPatterns(gctx, st.Domain, c.EntityName, e.cfg.HistoryPerCandidate)
			if err != nil {
				// A failed fetch only drops this candidate.
				log.Warn().Err(err).Str("entity", c.EntityName).Msg("Failed to load winning games")
				return nil
			}
			scores[i], _ = similarity.Best(current, patterns)
			return nil
		})
	}
	_ = g.Wait()

	best, bestScore := -1, 0.0
	for i, score := range scores {
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 || bestScore < e.cfg.MatchThreshold {
		return "", bestScore, false
	}
	return candidates[best].EntityName, bestScore, true
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
