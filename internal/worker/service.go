// Package worker provides the HTTP service that exposes the game engine.
package worker

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/twentyq/internal/domains"
	"github.com/thebtf/twentyq/internal/game"
	"github.com/thebtf/twentyq/internal/quota"
	"github.com/thebtf/twentyq/internal/worker/sse"
)

// Engine is the game surface the handlers drive.
type Engine interface {
	StartSession(ctx context.Context, domain string, userID *int64) (string, error)
	NextQuestion(ctx context.Context, id string) (*game.QuestionResult, error)
	SubmitAnswer(ctx context.Context, id string, questionID int64, answer string) (*game.AnswerResult, error)
	MakeGuess(ctx context.Context, id string) (*game.GuessResult, error)
	SubmitResult(ctx context.Context, id string, wasCorrect bool, entity string) error
}

// QuotaReporter reports per-backend consumption.
type QuotaReporter interface {
	Usage(ctx context.Context) ([]quota.Usage, error)
}

// Catalog lists the domains offered to players.
type Catalog interface {
	All() []*domains.Domain
	Get(name string) (*domains.Domain, bool)
}

// Pinger is a dependency checked by the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Service is the HTTP front of the engine.
type Service struct {
	version   string
	engine    Engine
	quota     QuotaReporter
	catalog   Catalog
	checks    map[string]Pinger
	events    *sse.Broadcaster
	router    *chi.Mux
	server    *http.Server
	ready     atomic.Bool
	startTime time.Time
}

// NewService creates a service. checks are pinged by /health.
func NewService(version string, engine Engine, quota QuotaReporter, catalog Catalog, checks map[string]Pinger) *Service {
	svc := &Service{
		version:   version,
		engine:    engine,
		quota:     quota,
		catalog:   catalog,
		checks:    checks,
		events:    sse.NewBroadcaster(),
		router:    chi.NewRouter(),
		startTime: time.Now(),
	}
	svc.setupRoutes()
	return svc
}

func (s *Service) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(requestLogger)

	s.router.Get("/", serveIndex)
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(s.requireReady)
		r.Get("/domains", s.handleDomains)
		r.Post("/start-game", s.handleStartGame)
		r.Get("/get-question/{sessionID}", s.handleGetQuestion)
		r.Post("/submit-answer", s.handleSubmitAnswer)
		r.Get("/make-guess/{sessionID}", s.handleMakeGuess)
		r.Post("/submit-result", s.handleSubmitResult)
		r.Get("/quota", s.handleQuota)
		r.Get("/events", s.events.HandleSSE)
	})
}

// Handler returns the root handler.
func (s *Service) Handler() http.Handler {
	return s.router
}

// SetReady marks the service as able to serve games.
func (s *Service) SetReady(ready bool) {
	s.ready.Store(ready)
}

// Start serves on addr until Shutdown.
func (s *Service) Start(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.SetReady(true)
	log.Info().Str("addr", addr).Str("version", s.version).Msg("Worker listening")

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Service) Shutdown(ctx context.Context) error {
	s.SetReady(false)
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Service) requireReady(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			writeError(w, http.StatusServiceUnavailable, "service is starting")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
