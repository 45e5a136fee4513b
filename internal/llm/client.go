// Package llm is the generative-text capability: provider conversations,
// bounded generation attempts and validation of generated questions.
package llm

import (
	"context"
)

// Conversation is a chat handle bound to one backend. Successive Send calls
// share context, so a backend keeps seeing the game it is helping with.
type Conversation interface {
	// Send posts prompt and returns the reply text.
	Send(ctx context.Context, prompt string) (string, error)
}

// Provider opens conversations on named backends (model ids).
type Provider interface {
	// Name returns the provider identifier (e.g. "gemini").
	Name() string
	// CreateConversation opens a new conversation on backend.
	CreateConversation(backend string) (Conversation, error)
}

// Message represents a chat message (system/user/assistant).
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// HistoryExchanges is how many completed prompt/reply exchanges a
// conversation replays on each Send. Older exchanges are forgotten.
const HistoryExchanges = 4

// keepLast returns at most the last n entries of s in a new slice.
func keepLast[T any](s []T, n int) []T {
	if len(s) > n {
		s = s[len(s)-n:]
	}
	return append([]T(nil), s...)
}
