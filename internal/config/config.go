// Package config provides configuration management for twentyq.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/twentyq/internal/quota"
)

const (
	// DefaultWorkerPort is the HTTP port of the game service.
	DefaultWorkerPort = 8000
	// DefaultRedisAddr is the fast store address.
	DefaultRedisAddr = "localhost:6379"
	// DefaultProvider selects the native Gemini backend client.
	DefaultProvider = "gemini"

	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Config holds all settings. JSON keys match the settings file, env tags
// name the variables that override it.
type Config struct {
	WorkerHost string `json:"TWENTYQ_WORKER_HOST" env:"TWENTYQ_WORKER_HOST"`
	WorkerPort int    `json:"TWENTYQ_WORKER_PORT" env:"TWENTYQ_WORKER_PORT"`

	DBDriver   string `json:"TWENTYQ_DB_DRIVER" env:"TWENTYQ_DB_DRIVER"`
	DBDSN      string `json:"TWENTYQ_DB_DSN" env:"TWENTYQ_DB_DSN"`
	DBMaxConns int    `json:"TWENTYQ_DB_MAX_CONNS" env:"TWENTYQ_DB_MAX_CONNS"`

	RedisAddr     string `json:"TWENTYQ_REDIS_ADDR" env:"TWENTYQ_REDIS_ADDR"`
	RedisPassword string `json:"TWENTYQ_REDIS_PASSWORD" env:"TWENTYQ_REDIS_PASSWORD"`
	RedisDB       int    `json:"TWENTYQ_REDIS_DB" env:"TWENTYQ_REDIS_DB"`
	RedisPoolSize int    `json:"TWENTYQ_REDIS_POOL_SIZE" env:"TWENTYQ_REDIS_POOL_SIZE"`

	// Seconds a session survives without activity.
	SessionTimeout int `json:"TWENTYQ_SESSION_TIMEOUT" env:"TWENTYQ_SESSION_TIMEOUT"`

	SnapshotPath     string `json:"TWENTYQ_SNAPSHOT_PATH" env:"TWENTYQ_SNAPSHOT_PATH"`
	SnapshotInterval int    `json:"TWENTYQ_SNAPSHOT_INTERVAL" env:"TWENTYQ_SNAPSHOT_INTERVAL"` // seconds
	SnapshotMaxAge   int    `json:"TWENTYQ_SNAPSHOT_MAX_AGE" env:"TWENTYQ_SNAPSHOT_MAX_AGE"`   // seconds
	QuotaHardLimit   bool   `json:"TWENTYQ_QUOTA_HARD_LIMIT" env:"TWENTYQ_QUOTA_HARD_LIMIT"`

	Provider      string          `json:"TWENTYQ_PROVIDER" env:"TWENTYQ_PROVIDER"`
	APIKey        string          `json:"TWENTYQ_API_KEY" env:"TWENTYQ_API_KEY"`
	APIBaseURL    string          `json:"TWENTYQ_API_BASE_URL" env:"TWENTYQ_API_BASE_URL"`
	Backends      []quota.Backend `json:"TWENTYQ_BACKENDS"`
	BackendOrder  string          `json:"TWENTYQ_BACKEND_ORDER" env:"TWENTYQ_BACKEND_ORDER"` // comma-separated subset of Backends
	GenTimeout    int             `json:"TWENTYQ_GENERATION_TIMEOUT" env:"TWENTYQ_GENERATION_TIMEOUT"` // seconds
	TokenBudget   int             `json:"TWENTYQ_TRANSCRIPT_BUDGET" env:"TWENTYQ_TRANSCRIPT_BUDGET"`
	GuessAfter    int             `json:"TWENTYQ_GUESS_AFTER" env:"TWENTYQ_GUESS_AFTER"`
	DomainsFile   string          `json:"TWENTYQ_DOMAINS_FILE" env:"TWENTYQ_DOMAINS_FILE"`
	LogLevel      string          `json:"TWENTYQ_LOG_LEVEL" env:"TWENTYQ_LOG_LEVEL"`
	WatchSettings bool            `json:"TWENTYQ_WATCH_SETTINGS" env:"TWENTYQ_WATCH_SETTINGS"`
}

// legacyEnv holds the variable names earlier deployments used.
type legacyEnv struct {
	RedisHost        string `env:"REDIS_HOST"`
	RedisPort        string `env:"REDIS_PORT"`
	PostgresHost     string `env:"POSTGRES_HOST"`
	PostgresPort     string `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser     string `env:"POSTGRES_USER"`
	PostgresPassword string `env:"POSTGRES_PASSWORD"`
	PostgresDB       string `env:"POSTGRES_DB"`
	SessionTimeout   int    `env:"SESSION_TIMEOUT"`
	GeminiAPIKey     string `env:"GEMINI_API"`
}

// DataDir returns the data directory path.
func DataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".twentyq")
}

// DBPath returns the default sqlite database path.
func DBPath() string {
	return filepath.Join(DataDir(), "twentyq.db")
}

// SettingsPath returns the settings file path.
func SettingsPath() string {
	return filepath.Join(DataDir(), "settings.json")
}

// SnapshotPath returns the default quota snapshot path.
func SnapshotPath() string {
	return filepath.Join(DataDir(), "quota_snapshot.json")
}

// DomainsPath returns the default domain registry path.
func DomainsPath() string {
	return filepath.Join(DataDir(), "domains.yaml")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0750)
}

// EnsureSettings writes a default settings file if none exists.
func EnsureSettings() error {
	path := SettingsPath()
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	data, err := json.MarshalIndent(Default(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode default settings: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

// EnsureAll ensures the data directory and settings file exist.
func EnsureAll() error {
	if err := EnsureDataDir(); err != nil {
		return err
	}
	return EnsureSettings()
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		WorkerHost:       "0.0.0.0",
		WorkerPort:       DefaultWorkerPort,
		DBDriver:         "sqlite",
		DBDSN:            DBPath(),
		RedisAddr:        DefaultRedisAddr,
		RedisPoolSize:    10,
		SessionTimeout:   3600,
		SnapshotPath:     SnapshotPath(),
		SnapshotInterval: 600,
		SnapshotMaxAge:   86400,
		Provider:         DefaultProvider,
		Backends:         quota.DefaultBackends(),
		GenTimeout:       15,
		TokenBudget:      1500,
		GuessAfter:       8,
		DomainsFile:      DomainsPath(),
		LogLevel:         "info",
	}
}

// Load reads the settings file over the defaults, then applies environment
// overrides. An unreadable or invalid settings file leaves the defaults.
func Load() (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(SettingsPath())
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			log.Warn().Err(err).Str("path", SettingsPath()).Msg("Invalid settings file, using defaults")
			cfg = Default()
		}
	case !os.IsNotExist(err):
		log.Warn().Err(err).Str("path", SettingsPath()).Msg("Failed to read settings file")
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if len(cfg.Backends) == 0 {
		cfg.Backends = quota.DefaultBackends()
	}
	if cfg.BackendOrder != "" {
		cfg.Backends = orderBackends(cfg.Backends, splitTrim(cfg.BackendOrder))
	}
	return cfg, nil
}

// orderBackends keeps the backends named in order, in that order. Unknown
// names are skipped; if none match, all backends are kept.
func orderBackends(backends []quota.Backend, order []string) []quota.Backend {
	byName := make(map[string]quota.Backend, len(backends))
	for _, b := range backends {
		byName[b.Name] = b
	}
	result := make([]quota.Backend, 0, len(order))
	for _, name := range order {
		b, ok := byName[name]
		if !ok {
			log.Warn().Str("backend", name).Msg("Unknown backend in order, skipping")
			continue
		}
		result = append(result, b)
	}
	if len(result) == 0 {
		return backends
	}
	return result
}

func applyEnv(cfg *Config) error {
	var legacy legacyEnv
	if err := env.Parse(&legacy); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	if legacy.RedisHost != "" {
		port := legacy.RedisPort
		if port == "" {
			port = "6379"
		}
		cfg.RedisAddr = legacy.RedisHost + ":" + port
	}
	if legacy.PostgresHost != "" && legacy.PostgresDB != "" {
		cfg.DBDriver = "postgres"
		cfg.DBDSN = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
			legacy.PostgresHost, legacy.PostgresPort, legacy.PostgresUser, legacy.PostgresPassword, legacy.PostgresDB)
	}
	if legacy.SessionTimeout > 0 {
		cfg.SessionTimeout = legacy.SessionTimeout
	}
	if legacy.GeminiAPIKey != "" {
		cfg.APIKey = legacy.GeminiAPIKey
	}

	// TWENTYQ_* names win over legacy ones.
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// SessionTTL returns SessionTimeout as a duration.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTimeout) * time.Second
}

// GenerationTimeout returns GenTimeout as a duration.
func (c *Config) GenerationTimeout() time.Duration {
	return time.Duration(c.GenTimeout) * time.Second
}

// SnapshotEvery returns SnapshotInterval as a duration.
func (c *Config) SnapshotEvery() time.Duration {
	return time.Duration(c.SnapshotInterval) * time.Second
}

// SnapshotTTL returns SnapshotMaxAge as a duration.
func (c *Config) SnapshotTTL() time.Duration {
	return time.Duration(c.SnapshotMaxAge) * time.Second
}

// Addr returns the worker listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.WorkerHost, c.WorkerPort)
}

// splitTrim splits a comma-separated list and drops empty entries.
func splitTrim(s string) []string {
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			result = append(result, p)
		}
	}
	return result
}
