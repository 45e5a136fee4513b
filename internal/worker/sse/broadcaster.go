// Package sse streams game events to browsers with Server-Sent Events.
package sse

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

const (
	// WriteTimeout bounds a single write so a stale connection cannot stall its stream.
	WriteTimeout = 2 * time.Second
	// Heartbeat is how often an idle stream gets a comment line.
	Heartbeat = 15 * time.Second

	clientBuffer = 32
)

// Event types.
const (
	EventGameStarted  = "game_started"
	EventQuestion     = "question"
	EventAnswer       = "answer"
	EventGuess        = "guess"
	EventGameFinished = "game_finished"
)

// Event is one game step.
type Event struct {
	At        time.Time   `json:"at"`
	Data      interface{} `json:"data,omitempty"`
	Type      string      `json:"type"`
	SessionID string      `json:"session_id"`
}

type client struct {
	events  chan Event
	id      string
	session string // empty receives every session
}

// Broadcaster fans events out to connected clients. Publishing never
// blocks; a client whose buffer is full misses the event.
type Broadcaster struct {
	clients map[string]*client
	mu      sync.RWMutex
	nextID  int
}

// NewBroadcaster creates a new SSE broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients: make(map[string]*client),
	}
}

func (b *Broadcaster) subscribe(session string) *client {
	b.mu.Lock()
	b.nextID++
	c := &client{
		id:      fmt.Sprintf("client-%d", b.nextID),
		session: session,
		events:  make(chan Event, clientBuffer),
	}
	b.clients[c.id] = c
	count := len(b.clients)
	b.mu.Unlock()

	log.Debug().Str("clientId", c.id).Str("session", session).Int("totalClients", count).Msg("SSE client connected")
	return c
}

func (b *Broadcaster) unsubscribe(c *client) {
	b.mu.Lock()
	delete(b.clients, c.id)
	count := len(b.clients)
	b.mu.Unlock()

	log.Debug().Str("clientId", c.id).Int("totalClients", count).Msg("SSE client disconnected")
}

// Publish sends e to every client following its session.
func (b *Broadcaster) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, c := range b.clients {
		if c.session != "" && c.session != e.SessionID {
			continue
		}
		select {
		case c.events <- e:
		default:
			log.Warn().Str("clientId", c.id).Str("type", e.Type).Msg("SSE client too slow, event dropped")
		}
	}
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// HandleSSE streams events until the client disconnects. The optional
// "session" query parameter limits the stream to one game.
func (b *Broadcaster) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	c := b.subscribe(r.URL.Query().Get("session"))
	defer b.unsubscribe(c)

	rc := http.NewResponseController(w)
	fmt.Fprintf(w, "event: connected\ndata: {\"clientId\":%q}\n\n", c.id)
	flusher.Flush()

	heartbeat := time.NewTicker(Heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-heartbeat.C:
			_ = rc.SetWriteDeadline(time.Now().Add(WriteTimeout))
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()

		case e := <-c.events:
			data, err := json.Marshal(e)
			if err != nil {
				log.Error().Err(err).Str("type", e.Type).Msg("Failed to marshal SSE event")
				continue
			}
			_ = rc.SetWriteDeadline(time.Now().Add(WriteTimeout))
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data); err != nil {
				log.Debug().Err(err).Str("clientId", c.id).Msg("Failed to write to SSE client")
				return
			}
			flusher.Flush()
		}
	}
}
