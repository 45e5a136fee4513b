package llm

import (
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/tiktoken-go/tokenizer"
)

// DefaultTranscriptBudget caps the tokens spent on the question/answer
// transcript embedded in a prompt.
const DefaultTranscriptBudget = 1500

// Turn is one asked question and the answer it received.
type Turn struct {
	Question string
	Answer   string
}

// QuestionPrompt asks for the next yes/no question in domain.
func QuestionPrompt(domain string, turns []Turn, budget int) string {
	if len(turns) == 0 {
		return fmt.Sprintf("Ask a new yes/no question to identify or to guess a %s. "+
			"The question must start with 'Is', 'Are', 'Does', 'Do', 'Can', 'Has', or 'Have'.", domain)
	}
	return fmt.Sprintf("Based on these previous questions and answers: %s "+
		"Ask a new yes/no question to identify or to guess a %s. "+
		"The question must start with 'Is', 'Are', 'Does', 'Do', 'Can', 'Has', or 'Have'.",
		Transcript(turns, budget), domain)
}

// GuessPrompt asks for the literal entity name given the full transcript.
func GuessPrompt(domain string, turns []Turn, budget int) string {
	return fmt.Sprintf("Based on these yes/no questions and answers about a %s: %s "+
		"What specific %s is it? Just Name the exact %s:",
		domain, Transcript(turns, budget), domain, domain)
}

// Transcript renders turns as "Q: ... A: ... " pairs. When the rendering
// exceeds budget tokens the oldest turns are dropped first. A non-positive
// budget keeps every turn.
func Transcript(turns []Turn, budget int) string {
	lines := make([]string, len(turns))
	for i, t := range turns {
		lines[i] = fmt.Sprintf("Q: %s A: %s. ", t.Question, t.Answer)
	}
	if budget <= 0 {
		return strings.TrimSpace(strings.Join(lines, ""))
	}

	total := 0
	start := len(lines)
	for start > 0 {
		n := countTokens(lines[start-1])
		if total+n > budget && start < len(lines) {
			break
		}
		total += n
		start--
	}
	if start > 0 {
		log.Debug().Int("dropped", start).Int("budget", budget).Msg("Trimmed prompt transcript")
	}
	return strings.TrimSpace(strings.Join(lines[start:], ""))
}

var (
	codecOnce sync.Once
	codec     tokenizer.Codec
)

func countTokens(text string) int {
	codecOnce.Do(func() {
		c, err := tokenizer.Get(tokenizer.Cl100kBase)
		if err != nil {
			log.Warn().Err(err).Msg("Tokenizer unavailable, estimating token counts")
			return
		}
		codec = c
	})
	if codec != nil {
		if ids, _, err := codec.Encode(text); err == nil {
			return len(ids)
		}
	}
	return (len(text) + 3) / 4
}
