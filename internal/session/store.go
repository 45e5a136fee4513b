package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// ErrSessionNotFound is returned for unknown or expired sessions.
var ErrSessionNotFound = errors.New("session not found")

// DefaultTTL is how long an idle session survives.
const DefaultTTL = time.Hour

// KV is the subset of the fast store sessions are kept in.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	SetEX(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// Store persists session state as JSON under session:{id}. Every write
// refreshes the inactivity TTL.
type Store struct {
	kv  KV
	ttl time.Duration
	now func() time.Time
}

// NewStore creates a session store. A non-positive ttl uses DefaultTTL.
func NewStore(kv KV, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{kv: kv, ttl: ttl, now: time.Now}
}

func key(id string) string {
	return "session:" + id
}

// Create starts a session for domain and saves it.
func (s *Store) Create(ctx context.Context, domain string, userID *int64) (*State, error) {
	st := &State{
		ID:         uuid.New().String(),
		Domain:     domain,
		UserID:     userID,
		History:    []QARecord{},
		AskedTexts: []string{},
		CreatedAt:  s.now(),
	}
	if err := s.Save(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

// Get loads a session. Unknown or expired ids return ErrSessionNotFound.
func (s *Store) Get(ctx context.Context, id string) (*State, error) {
	raw, found, err := s.kv.Get(ctx, key(id))
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	if !found {
		return nil, ErrSessionNotFound
	}

	var st State
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &st, nil
}

// Save writes the session and refreshes its TTL.
func (s *Store) Save(ctx context.Context, st *State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", st.ID, err)
	}
	if err := s.kv.SetEX(ctx, key(st.ID), string(data), s.ttl); err != nil {
		return fmt.Errorf("save session %s: %w", st.ID, err)
	}
	return nil
}

// Delete removes the session. Deleting an unknown session is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.kv.Del(ctx, key(id)); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}
