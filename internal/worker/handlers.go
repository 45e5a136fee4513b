package worker

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/twentyq/internal/game"
	"github.com/thebtf/twentyq/internal/quota"
	"github.com/thebtf/twentyq/internal/worker/sse"
)

type startGameRequest struct {
	Domain string `json:"domain"`
	UserID *int64 `json:"user_id,omitempty"`
}

type startGameResponse struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type domainInfo struct {
	Name  string `json:"name"`
	Label string `json:"label"`
}

type domainsResponse struct {
	Domains []domainInfo `json:"domains"`
}

type questionResponse struct {
	SessionID   string    `json:"session_id"`
	QuestionID  int64     `json:"question_id"`
	Question    string    `json:"question"`
	Asked       int       `json:"questions_asked"`
	ShouldGuess bool      `json:"should_guess"`
	Tier        game.Tier `json:"tier"`
}

type answerRequest struct {
	SessionID  string `json:"session_id"`
	QuestionID int64  `json:"question_id"`
	Answer     string `json:"answer"`
}

type answerResponse struct {
	SessionID   string `json:"session_id"`
	ShouldGuess bool   `json:"should_guess"`
	Asked       int    `json:"questions_asked"`
}

type guessResponse struct {
	SessionID string           `json:"session_id"`
	Guess     string           `json:"guess"`
	Asked     int              `json:"questions_asked"`
	Source    game.GuessSource `json:"source"`
}

type resultRequest struct {
	SessionID    string `json:"session_id"`
	WasCorrect   *bool  `json:"was_correct"`
	ActualEntity string `json:"actual_entity,omitempty"`
}

type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Uptime  string            `json:"uptime"`
	Ready   bool              `json:"ready"`
	Checks  map[string]string `json:"checks,omitempty"`
}

type quotaResponse struct {
	Backends []quota.Usage `json:"backends"`
}

func (s *Service) handleStartGame(w http.ResponseWriter, r *http.Request) {
	var req startGameRequest
	if !decode(w, r, &req) {
		return
	}
	id, err := s.engine.StartSession(r.Context(), req.Domain, req.UserID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	s.events.Publish(sse.Event{
		Type:      sse.EventGameStarted,
		SessionID: id,
		Data:      map[string]string{"domain": req.Domain},
	})
	writeJSON(w, http.StatusOK, startGameResponse{
		SessionID: id,
		Message:   "Think of a " + s.label(req.Domain) + " and answer my questions.",
	})
}

// label is the display name of domain, lowercased for use mid-sentence.
func (s *Service) label(domain string) string {
	if d, ok := s.catalog.Get(domain); ok && d.Label != "" {
		return strings.ToLower(d.Label)
	}
	return strings.TrimSpace(domain)
}

func (s *Service) handleDomains(w http.ResponseWriter, _ *http.Request) {
	all := s.catalog.All()
	resp := domainsResponse{Domains: make([]domainInfo, 0, len(all))}
	for _, d := range all {
		label := d.Label
		if label == "" {
			label = d.Name
		}
		resp.Domains = append(resp.Domains, domainInfo{Name: d.Name, Label: label})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) handleGetQuestion(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	q, err := s.engine.NextQuestion(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	resp := questionResponse{
		SessionID:   id,
		QuestionID:  q.QuestionID,
		Question:    q.Text,
		Asked:       q.AskedCount,
		ShouldGuess: q.ShouldGuess,
		Tier:        q.Tier,
	}
	s.events.Publish(sse.Event{Type: sse.EventQuestion, SessionID: id, Data: resp})
	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) handleSubmitAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if !decode(w, r, &req) {
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	res, err := s.engine.SubmitAnswer(r.Context(), req.SessionID, req.QuestionID, req.Answer)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	resp := answerResponse{
		SessionID:   req.SessionID,
		ShouldGuess: res.ShouldGuess,
		Asked:       res.AskedCount,
	}
	s.events.Publish(sse.Event{Type: sse.EventAnswer, SessionID: req.SessionID, Data: resp})
	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) handleMakeGuess(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	g, err := s.engine.MakeGuess(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	resp := guessResponse{
		SessionID: id,
		Guess:     g.Entity,
		Asked:     g.AskedCount,
		Source:    g.Source,
	}
	s.events.Publish(sse.Event{Type: sse.EventGuess, SessionID: id, Data: resp})
	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) handleSubmitResult(w http.ResponseWriter, r *http.Request) {
	var req resultRequest
	if !decode(w, r, &req) {
		return
	}
	if req.SessionID == "" || req.WasCorrect == nil {
		writeError(w, http.StatusBadRequest, "session_id and was_correct are required")
		return
	}
	if err := s.engine.SubmitResult(r.Context(), req.SessionID, *req.WasCorrect, req.ActualEntity); err != nil {
		writeEngineError(w, err)
		return
	}
	s.events.Publish(sse.Event{
		Type:      sse.EventGameFinished,
		SessionID: req.SessionID,
		Data:      map[string]interface{}{"was_correct": *req.WasCorrect, "entity": req.ActualEntity},
	})
	writeJSON(w, http.StatusOK, statusResponse{Status: "success", Message: "Game result recorded"})
}

func (s *Service) handleQuota(w http.ResponseWriter, r *http.Request) {
	usage, err := s.quota.Usage(r.Context())
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read quota usage")
		writeError(w, http.StatusServiceUnavailable, "quota store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, quotaResponse{Backends: usage})
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:  "healthy",
		Version: s.version,
		Uptime:  time.Since(s.startTime).Round(time.Second).String(),
		Ready:   s.ready.Load(),
	}
	status := http.StatusOK
	if len(s.checks) > 0 {
		resp.Checks = make(map[string]string, len(s.checks))
		for name, c := range s.checks {
			if err := c.Ping(r.Context()); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
	}
	writeJSON(w, status, resp)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, game.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, game.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.Error().Err(err).Msg("Request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
