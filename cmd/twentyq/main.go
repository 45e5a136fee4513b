// Package main provides the game service entry point for twentyq.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm/logger"

	"github.com/thebtf/twentyq/internal/config"
	gormdb "github.com/thebtf/twentyq/internal/db/gorm"
	"github.com/thebtf/twentyq/internal/domains"
	"github.com/thebtf/twentyq/internal/game"
	"github.com/thebtf/twentyq/internal/kv"
	"github.com/thebtf/twentyq/internal/llm"
	"github.com/thebtf/twentyq/internal/quota"
	"github.com/thebtf/twentyq/internal/session"
	"github.com/thebtf/twentyq/internal/watcher"
	"github.com/thebtf/twentyq/internal/worker"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if err := config.EnsureAll(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure data directory")
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	setLogLevel(cfg.LogLevel, *debug)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("Shutting down")
		cancel()
	}()

	// Relational store (migrations run automatically)
	dbLevel := logger.Warn
	if *debug {
		dbLevel = logger.Info
	}
	store, err := gormdb.NewStore(gormdb.Config{
		Driver:   cfg.DBDriver,
		DSN:      cfg.DBDSN,
		MaxConns: cfg.DBMaxConns,
		LogLevel: dbLevel,
	})
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DBDriver).Msg("Failed to initialize database")
	}
	defer store.Close()

	// Fast store for sessions and quota counters
	fast := kv.New(kv.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		PoolSize: cfg.RedisPoolSize,
	})
	defer fast.Close()
	if err := fast.Ping(ctx); err != nil {
		log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("Fast store unreachable, sessions will fail until it is up")
	}

	ledger := quota.NewLedger(fast, cfg.Backends, quota.Options{
		SnapshotPath:     cfg.SnapshotPath,
		SnapshotInterval: cfg.SnapshotEvery(),
		SnapshotMaxAge:   cfg.SnapshotTTL(),
		HardLimit:        cfg.QuotaHardLimit,
	})
	selector := quota.NewSelector(ledger, newProvider(cfg))
	if idx, ok := ledger.Restore(ctx); ok {
		selector.SetCurrent(idx)
	}

	registry, err := domains.Load(cfg.DomainsFile)
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.DomainsFile).Msg("Failed to load domains, using built-ins")
		registry = domains.Default()
	}

	engineCfg := game.DefaultConfig()
	engineCfg.GuessAfter = cfg.GuessAfter
	engineCfg.TranscriptBudget = cfg.TokenBudget

	engine := game.New(game.Deps{
		Sessions:  session.NewStore(fast, cfg.SessionTTL()),
		Questions: gormdb.NewQuestionStore(store),
		Cache:     gormdb.NewDomainCacheStore(store),
		Guesses:   gormdb.NewGuessCacheStore(store),
		History:   gormdb.NewHistoryStore(store),
		Generator: llm.NewGenerator(selector, cfg.GenerationTimeout()),
		Domains:   registry,
	}, engineCfg)

	svc := worker.NewService(Version, engine, ledger, registry, map[string]worker.Pinger{
		"database": store,
		"kv":       fast,
	})

	if cfg.WatchSettings {
		startWatcher(cancel, config.SettingsPath(), cfg.DomainsFile)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- svc.Start(cfg.Addr())
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("Worker stopped")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := svc.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Worker shutdown incomplete")
	}
	ledger.Snapshot(shutdownCtx)
	log.Info().Msg("Stopped")
}

func setLogLevel(level string, debug bool) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	if debug {
		lvl = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

func newProvider(cfg *config.Config) llm.Provider {
	if cfg.Provider == config.ProviderOpenAI {
		return llm.NewOpenAIProvider(llm.OpenAIConfig{
			BaseURL: cfg.APIBaseURL,
			APIKey:  cfg.APIKey,
		})
	}
	if cfg.APIKey == "" {
		log.Warn().Msg("No API key configured, generation will fail and emergency questions will be served")
	}
	return llm.NewGeminiProvider(cfg.APIKey, cfg.APIBaseURL)
}

// startWatcher stops the service when a configuration file changes, so a
// supervisor restarts it with the new settings.
func startWatcher(stop context.CancelFunc, paths ...string) {
	w, err := watcher.New(func(path string) {
		log.Warn().Str("path", path).Msg("Configuration changed, shutting down for restart")
		stop()
	}, paths...)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create config watcher")
		return
	}
	if err := w.Start(); err != nil {
		log.Warn().Err(err).Msg("Failed to start config watcher")
		return
	}
	log.Info().Strs("paths", paths).Msg("Config watcher started")
}
