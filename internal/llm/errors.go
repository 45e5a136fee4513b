package llm

import (
	"errors"
	"fmt"
)

var (
	// ErrQuotaExceeded means no backend had request budget left, or the backend answered 429.
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrGeneration covers transport failures, timeouts and empty replies.
	ErrGeneration = errors.New("generation failed")
	// ErrValidation means the backend replied but the text was rejected.
	ErrValidation = errors.New("generated text rejected")
	// ErrUnknownBackend is returned when a conversation is requested for an unconfigured backend.
	ErrUnknownBackend = errors.New("unknown backend")
)

// ProviderError wraps an error with provider context.
type ProviderError struct {
	Provider string
	Model    string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Model != "" {
		return fmt.Sprintf("%s/%s: %v", e.Provider, e.Model, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }
