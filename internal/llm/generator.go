package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/twentyq/internal/textclean"
)

// DefaultTimeout bounds one generation attempt.
const DefaultTimeout = 15 * time.Second

// BackendSource hands out a backend with budget and its conversation.
type BackendSource interface {
	// Acquire consumes one request from some backend and returns that
	// backend with its conversation. Exhaustion wraps ErrQuotaExceeded.
	Acquire(ctx context.Context) (string, Conversation, error)
}

// Generator runs single bounded generation attempts against the current backend.
type Generator struct {
	source  BackendSource
	timeout time.Duration
}

// NewGenerator creates a generator. A non-positive timeout uses DefaultTimeout.
func NewGenerator(source BackendSource, timeout time.Duration) *Generator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Generator{source: source, timeout: timeout}
}

// Generate sends prompt once and returns the cleaned reply.
// Errors wrap ErrQuotaExceeded or ErrGeneration.
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	backend, conv, err := g.source.Acquire(ctx)
	if err != nil {
		if errors.Is(err, ErrQuotaExceeded) {
			return "", err
		}
		return "", fmt.Errorf("%w: open conversation: %v", ErrGeneration, err)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	type reply struct {
		text string
		err  error
	}
	done := make(chan reply, 1)
	go func() {
		text, err := conv.Send(attemptCtx, prompt)
		done <- reply{text: text, err: err}
	}()

	var r reply
	select {
	case r = <-done:
	case <-attemptCtx.Done():
		log.Warn().Str("backend", backend).Dur("timeout", g.timeout).Msg("Generation timed out")
		return "", fmt.Errorf("%w: %s: %v", ErrGeneration, backend, attemptCtx.Err())
	}

	if r.err != nil {
		if !errors.Is(r.err, ErrQuotaExceeded) && !errors.Is(r.err, ErrGeneration) {
			r.err = fmt.Errorf("%w: %v", ErrGeneration, r.err)
		}
		log.Warn().Err(r.err).Str("backend", backend).Msg("Generation failed")
		return "", r.err
	}

	text := textclean.Clean(r.text)
	if text == "" {
		return "", fmt.Errorf("%w: %s: empty reply", ErrGeneration, backend)
	}
	return text, nil
}

// GenerateQuestion generates and validates one yes/no question.
// A rejected text wraps ErrValidation and is not retried.
func (g *Generator) GenerateQuestion(ctx context.Context, prompt string) (string, error) {
	text, err := g.Generate(ctx, prompt)
	if err != nil {
		return "", err
	}
	text = textclean.FirstLine(text)
	if err := ValidateQuestion(text); err != nil {
		log.Debug().Err(err).Str("text", truncate(text, 80)).Msg("Discarded generated question")
		return "", err
	}
	return text, nil
}

// GenerateGuess asks for an entity name and returns it trimmed to one line.
func (g *Generator) GenerateGuess(ctx context.Context, prompt string) (string, error) {
	text, err := g.Generate(ctx, prompt)
	if err != nil {
		return "", err
	}
	entity := textclean.Entity(text)
	if entity == "" {
		return "", fmt.Errorf("%w: empty entity", ErrValidation)
	}
	return entity, nil
}

var deniedSubstrings = []string{"http", "www", ".com", ".org", ".net", "video", "watch", "youtube"}

var questionStarters = map[string]bool{
	"is": true, "are": true, "does": true, "do": true, "can": true, "has": true, "have": true,
	"was": true, "were": true, "will": true, "would": true, "should": true, "could": true,
}

// ValidateQuestion accepts only short yes/no questions without links or media references.
func ValidateQuestion(text string) error {
	text = strings.TrimSpace(text)
	if len(text) < 5 {
		return fmt.Errorf("%w: too short", ErrValidation)
	}
	if !strings.HasSuffix(text, "?") {
		return fmt.Errorf("%w: not a question", ErrValidation)
	}
	lower := strings.ToLower(text)
	for _, denied := range deniedSubstrings {
		if strings.Contains(lower, denied) {
			return fmt.Errorf("%w: contains %q", ErrValidation, denied)
		}
	}
	first := strings.Fields(lower)[0]
	if !questionStarters[first] {
		return fmt.Errorf("%w: starts with %q", ErrValidation, first)
	}
	return nil
}
