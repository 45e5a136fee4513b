package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/thebtf/twentyq/internal/quota"
)

var envKeys = []string{
	"TWENTYQ_WORKER_PORT", "TWENTYQ_REDIS_ADDR", "TWENTYQ_API_KEY", "TWENTYQ_BACKEND_ORDER",
	"TWENTYQ_SESSION_TIMEOUT", "REDIS_HOST", "REDIS_PORT", "POSTGRES_HOST", "POSTGRES_PORT",
	"POSTGRES_USER", "POSTGRES_PASSWORD", "POSTGRES_DB", "SESSION_TIMEOUT", "GEMINI_API",
}

// ConfigSuite is a test suite for config operations.
type ConfigSuite struct {
	suite.Suite
	tempDir string
}

func (s *ConfigSuite) SetupTest() {
	s.tempDir = s.T().TempDir()
	s.T().Setenv("HOME", s.tempDir)
	for _, k := range envKeys {
		s.T().Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigSuite))
}

func (s *ConfigSuite) writeSettings(content string) {
	s.Require().NoError(os.MkdirAll(filepath.Join(s.tempDir, ".twentyq"), 0750))
	s.Require().NoError(os.WriteFile(filepath.Join(s.tempDir, ".twentyq", "settings.json"), []byte(content), 0600))
}

func (s *ConfigSuite) TestDefault() {
	cfg := Default()

	s.Equal(DefaultWorkerPort, cfg.WorkerPort)
	s.Equal(DefaultRedisAddr, cfg.RedisAddr)
	s.Equal("sqlite", cfg.DBDriver)
	s.Equal(DBPath(), cfg.DBDSN)
	s.Equal(time.Hour, cfg.SessionTTL())
	s.Equal(10*time.Minute, cfg.SnapshotEvery())
	s.Equal(24*time.Hour, cfg.SnapshotTTL())
	s.Equal(15*time.Second, cfg.GenerationTimeout())
	s.Equal(8, cfg.GuessAfter)
	s.Equal(quota.DefaultBackends(), cfg.Backends)
	s.False(cfg.QuotaHardLimit)
}

func (s *ConfigSuite) TestPaths() {
	s.Contains(DataDir(), ".twentyq")
	s.Contains(DBPath(), "twentyq.db")
	s.Contains(SettingsPath(), "settings.json")
	s.Contains(SnapshotPath(), "quota_snapshot.json")
	s.Contains(DomainsPath(), "domains.yaml")
}

func (s *ConfigSuite) TestEnsureAll() {
	s.Require().NoError(EnsureAll())

	info, err := os.Stat(DataDir())
	s.Require().NoError(err)
	s.True(info.IsDir())

	// The written defaults load back unchanged.
	cfg, err := Load()
	s.Require().NoError(err)
	s.Equal(Default(), cfg)

	// Second call keeps the existing file.
	s.writeSettings(`{"TWENTYQ_WORKER_PORT": 9100}`)
	s.Require().NoError(EnsureSettings())
	cfg, err = Load()
	s.Require().NoError(err)
	s.Equal(9100, cfg.WorkerPort)
}

func (s *ConfigSuite) TestLoad_TableDriven() {
	tests := []struct {
		name         string
		settingsJSON string
		expectedPort int
		expectedRPM  int
		expectedLen  int
	}{
		{
			name:         "no settings file",
			expectedPort: DefaultWorkerPort,
			expectedRPM:  30,
			expectedLen:  4,
		},
		{
			name:         "custom port",
			settingsJSON: `{"TWENTYQ_WORKER_PORT": 38888}`,
			expectedPort: 38888,
			expectedRPM:  30,
			expectedLen:  4,
		},
		{
			name:         "custom backends",
			settingsJSON: `{"TWENTYQ_BACKENDS": [{"name": "local", "rpm": 5, "rpd": 100}]}`,
			expectedPort: DefaultWorkerPort,
			expectedRPM:  5,
			expectedLen:  1,
		},
		{
			name:         "empty backends fall back to defaults",
			settingsJSON: `{"TWENTYQ_BACKENDS": []}`,
			expectedPort: DefaultWorkerPort,
			expectedRPM:  30,
			expectedLen:  4,
		},
		{
			name:         "invalid JSON returns defaults",
			settingsJSON: `{invalid}`,
			expectedPort: DefaultWorkerPort,
			expectedRPM:  30,
			expectedLen:  4,
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			os.RemoveAll(filepath.Join(s.tempDir, ".twentyq"))
			if tt.settingsJSON != "" {
				s.writeSettings(tt.settingsJSON)
			}

			cfg, err := Load()
			s.Require().NoError(err)
			s.Equal(tt.expectedPort, cfg.WorkerPort)
			s.Require().Len(cfg.Backends, tt.expectedLen)
			s.Equal(tt.expectedRPM, cfg.Backends[0].RPMLimit)
		})
	}
}

func (s *ConfigSuite) TestEnvOverridesSettings() {
	s.writeSettings(`{"TWENTYQ_WORKER_PORT": 9100, "TWENTYQ_REDIS_ADDR": "cache:6379"}`)
	s.T().Setenv("TWENTYQ_WORKER_PORT", "9200")

	cfg, err := Load()
	s.Require().NoError(err)
	s.Equal(9200, cfg.WorkerPort)
	s.Equal("cache:6379", cfg.RedisAddr)
	s.Equal("0.0.0.0:9200", cfg.Addr())
}

func (s *ConfigSuite) TestInvalidEnvFails() {
	s.T().Setenv("TWENTYQ_WORKER_PORT", "invalid")

	_, err := Load()
	s.Error(err)
}

func (s *ConfigSuite) TestLegacyEnv() {
	s.T().Setenv("REDIS_HOST", "redis")
	s.T().Setenv("REDIS_PORT", "6380")
	s.T().Setenv("POSTGRES_HOST", "db")
	s.T().Setenv("POSTGRES_USER", "game")
	s.T().Setenv("POSTGRES_PASSWORD", "secret")
	s.T().Setenv("POSTGRES_DB", "twentyq")
	s.T().Setenv("SESSION_TIMEOUT", "1800")
	s.T().Setenv("GEMINI_API", "key-1")

	cfg, err := Load()
	s.Require().NoError(err)
	s.Equal("redis:6380", cfg.RedisAddr)
	s.Equal("postgres", cfg.DBDriver)
	s.Equal("host=db port=5432 user=game password=secret dbname=twentyq sslmode=disable", cfg.DBDSN)
	s.Equal(30*time.Minute, cfg.SessionTTL())
	s.Equal("key-1", cfg.APIKey)

	s.Run("current names win", func() {
		s.T().Setenv("TWENTYQ_REDIS_ADDR", "primary:6379")
		s.T().Setenv("TWENTYQ_API_KEY", "key-2")

		cfg, err := Load()
		s.Require().NoError(err)
		s.Equal("primary:6379", cfg.RedisAddr)
		s.Equal("key-2", cfg.APIKey)
	})
}

func (s *ConfigSuite) TestBackendOrder() {
	s.T().Setenv("TWENTYQ_BACKEND_ORDER", "gemini-2.0-flash, missing ,gemma-3-27b-it")

	cfg, err := Load()
	s.Require().NoError(err)
	s.Require().Len(cfg.Backends, 2)
	s.Equal("gemini-2.0-flash", cfg.Backends[0].Name)
	s.Equal("gemma-3-27b-it", cfg.Backends[1].Name)
}

func TestOrderBackends(t *testing.T) {
	all := quota.DefaultBackends()
	assert.Equal(t, all, orderBackends(all, []string{"unknown"}))
	assert.Equal(t, []quota.Backend{all[3], all[0]}, orderBackends(all, []string{all[3].Name, all[0].Name}))
}

// TestSplitTrim tests the splitTrim helper function.
func TestSplitTrim(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{name: "empty string", input: "", expected: []string{}},
		{name: "single value", input: "gemma", expected: []string{"gemma"}},
		{name: "multiple values", input: "a,b,c", expected: []string{"a", "b", "c"}},
		{name: "values with spaces", input: " a , b , c ", expected: []string{"a", "b", "c"}},
		{name: "empty values filtered", input: "a,,b,,", expected: []string{"a", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, splitTrim(tt.input))
		})
	}
}
