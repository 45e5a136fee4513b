package quota

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/twentyq/internal/llm"
)

// ErrNoBackends is returned when the selector was built without backends.
var ErrNoBackends = errors.New("no backends configured")

// ErrExhausted is returned by Acquire when no backend has budget left.
var ErrExhausted = fmt.Errorf("all backends exhausted: %w", llm.ErrQuotaExceeded)

// Budget is the request accounting the selector rotates over.
type Budget interface {
	Backends() []Backend
	TryConsume(ctx context.Context, idx int) bool
}

// Selector owns the currently selected backend and one conversation per
// backend. Conversations live as long as the selector.
type Selector struct {
	budget   Budget
	provider llm.Provider
	names    []string

	rotateMu sync.Mutex // serializes Rotate so one caller walks a whole cycle

	mu            sync.Mutex
	queue         []int
	current       int
	conversations map[string]llm.Conversation
}

// NewSelector creates a selector over budget's backends. When budget is a
// *Ledger, its snapshots record the selector's current index.
func NewSelector(budget Budget, provider llm.Provider) *Selector {
	backends := budget.Backends()
	s := &Selector{
		budget:        budget,
		provider:      provider,
		names:         make([]string, len(backends)),
		queue:         make([]int, len(backends)),
		conversations: make(map[string]llm.Conversation),
	}
	for i, b := range backends {
		s.names[i] = b.Name
		s.queue[i] = i
	}
	if l, ok := budget.(*Ledger); ok {
		l.setIndexSource(s.CurrentIndex)
	}
	return s
}

// Rotate walks the round-robin queue once, consuming budget from the first
// backend that has some. That backend becomes current. It returns false when
// every backend refused within the cycle.
func (s *Selector) Rotate(ctx context.Context) bool {
	_, ok := s.rotate(ctx)
	return ok
}

// rotate returns the index it charged.
func (s *Selector) rotate(ctx context.Context) (int, bool) {
	s.rotateMu.Lock()
	defer s.rotateMu.Unlock()

	for range s.names {
		s.mu.Lock()
		idx := s.queue[0]
		s.queue = append(s.queue[1:], idx)
		s.mu.Unlock()

		if s.budget.TryConsume(ctx, idx) {
			s.mu.Lock()
			prev := s.current
			s.current = idx
			s.mu.Unlock()
			if prev != idx {
				log.Info().Str("backend", s.names[idx]).Msg("Switched generation backend")
			}
			return idx, true
		}
	}
	log.Warn().Int("backends", len(s.names)).Msg("All generation backends exhausted")
	return 0, false
}

// Acquire consumes one request from the current backend, rotating when it
// has none left, and returns the backend that was charged with its
// conversation.
func (s *Selector) Acquire(ctx context.Context) (string, llm.Conversation, error) {
	if len(s.names) == 0 {
		return "", nil, ErrExhausted
	}
	idx := s.CurrentIndex()
	if !s.budget.TryConsume(ctx, idx) {
		var ok bool
		if idx, ok = s.rotate(ctx); !ok {
			return "", nil, ErrExhausted
		}
	}
	return s.conversationAt(idx)
}

// Current returns the selected backend name and its conversation, creating
// the conversation on first use.
func (s *Selector) Current() (string, llm.Conversation, error) {
	if len(s.names) == 0 {
		return "", nil, ErrNoBackends
	}
	return s.conversationAt(s.CurrentIndex())
}

func (s *Selector) conversationAt(idx int) (string, llm.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := s.names[idx]
	if conv, ok := s.conversations[name]; ok {
		return name, conv, nil
	}
	conv, err := s.provider.CreateConversation(name)
	if err != nil {
		return name, nil, err
	}
	s.conversations[name] = conv
	return name, conv, nil
}

// CurrentIndex returns the selected backend index.
func (s *Selector) CurrentIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// SetCurrent selects backend i, clamped to the configured range.
func (s *Selector) SetCurrent(i int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.names) == 0 {
		return
	}
	if i < 0 {
		i = 0
	}
	if i >= len(s.names) {
		i = len(s.names) - 1
	}
	s.current = i
}
