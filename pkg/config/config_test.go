package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_STR", "custom")
	t.Setenv("TEST_BOOL", "TRUE")
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_BAD_INT", "forty-two")
	t.Setenv("TEST_DURATION", "90s")
	t.Setenv("TEST_FLOAT", "0.5")
	t.Setenv("TEST_LIST", " a, b ,,c ")

	assert.Equal(t, "custom", getEnv("TEST_STR", "default"))
	assert.Equal(t, "default", getEnv("TEST_STR_NOT_SET", "default"))
	assert.True(t, getEnvBool("TEST_BOOL", false))
	assert.True(t, getEnvBool("TEST_BOOL_NOT_SET", true))
	assert.Equal(t, 42, getEnvInt("TEST_INT", 0))
	assert.Equal(t, 7, getEnvInt("TEST_BAD_INT", 7))
	assert.Equal(t, int64(42), getEnvInt64("TEST_INT", 0))
	assert.Equal(t, 90*time.Second, getEnvDuration("TEST_DURATION", 0))
	assert.Equal(t, 0.5, getEnvFloat("TEST_FLOAT", 1))
	assert.Equal(t, []string{"a", "b", "c"}, getEnvList("TEST_LIST"))
	assert.Nil(t, getEnvList("TEST_LIST_NOT_SET"))
}

func TestParseSeed(t *testing.T) {
	seed, err := parseSeed("alice=1000, bob=5")
	require.NoError(t, err)
	assert.Equal(t, map[string]uint64{"alice": 1000, "bob": 5}, seed)

	seed, err = parseSeed("")
	require.NoError(t, err)
	assert.Empty(t, seed)

	for _, bad := range []string{"alice", "=5", "alice=-1", "alice=lots"} {
		_, err := parseSeed(bad)
		assert.Error(t, err, bad)
	}
}

func validConfig() *Config {
	return &Config{
		Server:        ServerConfig{Port: "8080"},
		Ledger:        LedgerConfig{Driver: LedgerMemory},
		Auth:          AuthConfig{JWTSecret: "secret"},
		Collector:     CollectorConfig{Schedule: "@hourly", Concurrency: 1},
		Observability: ObservabilityConfig{LogLevel: "info"},
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"bad port", func(c *Config) { c.Server.Port = "http" }, true},
		{"port out of range", func(c *Config) { c.Server.Port = "70000" }, true},
		{"sqlite without dsn", func(c *Config) { c.Ledger.Driver = LedgerSQLite }, true},
		{"sqlite with dsn", func(c *Config) {
			c.Ledger.Driver = LedgerSQLite
			c.Ledger.DSN = "file:ledger.db"
		}, false},
		{"postgres without dsn", func(c *Config) { c.Ledger.Driver = LedgerPostgres }, true},
		{"redis without url", func(c *Config) { c.Ledger.Driver = LedgerRedis }, true},
		{"redis with url", func(c *Config) {
			c.Ledger.Driver = LedgerRedis
			c.Ledger.RedisURL = "redis://localhost:6379/0"
		}, false},
		{"unknown driver", func(c *Config) { c.Ledger.Driver = "mongo" }, true},
		{"missing jwt secret", func(c *Config) { c.Auth.JWTSecret = "" }, true},
		{"negative cache", func(c *Config) { c.Auth.TokenCacheSize = -1 }, true},
		{"collector bad schedule", func(c *Config) {
			c.Collector.Enabled = true
			c.Collector.Payees = []string{"svc"}
			c.Collector.Schedule = "every tuesday"
		}, true},
		{"collector without payees", func(c *Config) { c.Collector.Enabled = true }, true},
		{"collector valid", func(c *Config) {
			c.Collector.Enabled = true
			c.Collector.Payees = []string{"svc"}
			c.Collector.Schedule = "*/5 * * * *"
		}, false},
		{"rate limit memory", func(c *Config) {
			c.RateLimit = RateLimitConfig{Enabled: true, Backend: RateLimitMemory, RequestsPerMinute: 60}
		}, false},
		{"rate limit redis without url", func(c *Config) {
			c.RateLimit = RateLimitConfig{Enabled: true, Backend: RateLimitRedis, RequestsPerMinute: 60}
		}, true},
		{"rate limit unknown backend", func(c *Config) {
			c.RateLimit = RateLimitConfig{Enabled: true, Backend: "memcached", RequestsPerMinute: 60}
		}, true},
		{"rate limit zero rpm", func(c *Config) {
			c.RateLimit = RateLimitConfig{Enabled: true, Backend: RateLimitMemory}
		}, true},
		{"rate limit disabled ignores settings", func(c *Config) {
			c.RateLimit = RateLimitConfig{Backend: "memcached"}
		}, false},
		{"bad log level", func(c *Config) { c.Observability.LogLevel = "loud" }, true},
		{"otel without endpoint", func(c *Config) { c.Observability.OTelEnabled = true }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCollectorOnlyValidate(t *testing.T) {
	cfg := validConfig()
	cfg.Collector.Payees = []string{"svc"}
	cfg.Collector.Token = "token"
	cfg.Collector.APIURL = "http://localhost:8080"
	assert.NoError(t, cfg.CollectorOnlyValidate())

	cfg.Collector.Payees = []string{"a", "b"}
	assert.Error(t, cfg.CollectorOnlyValidate())

	cfg.Collector.Payees = []string{"svc"}
	cfg.Collector.Token = ""
	assert.Error(t, cfg.CollectorOnlyValidate())
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("PULLPAY_JWT_SECRET", "secret")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, LedgerMemory, cfg.Ledger.Driver)
	assert.Equal(t, "pullpay", cfg.Auth.Issuer)
	assert.Equal(t, "@hourly", cfg.Collector.Schedule)
	assert.False(t, cfg.Collector.Enabled)
	assert.Equal(t, "info", cfg.Observability.LogLevel)
	assert.Empty(t, cfg.Bank.Seed)
	assert.False(t, cfg.RateLimit.Enabled)
	assert.Equal(t, RateLimitMemory, cfg.RateLimit.Backend)
}

func TestLoadSkipsValidation(t *testing.T) {
	t.Setenv("PULLPAY_JWT_SECRET", "")
	os.Unsetenv("PULLPAY_JWT_SECRET")
	t.Setenv("PULLPAY_COLLECTOR_PAYEES", "streaming-svc")
	t.Setenv("PULLPAY_COLLECTOR_TOKEN", "token")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Error(t, cfg.Validate())
	assert.NoError(t, cfg.CollectorOnlyValidate())
}

func TestLoadConfigEnvFile(t *testing.T) {
	keys := []string{"PULLPAY_JWT_SECRET", "PULLPAY_LEDGER_DRIVER", "PULLPAY_LEDGER_DSN", "PULLPAY_BANK_SEED", "PULLPAY_PORT"}
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	// set in the environment, must win over the file
	t.Setenv("PULLPAY_PORT", "9000")

	envFile := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte(
		"PULLPAY_JWT_SECRET=from-file\n"+
			"PULLPAY_LEDGER_DRIVER=sqlite\n"+
			"PULLPAY_LEDGER_DSN=file:ledger.db\n"+
			"PULLPAY_BANK_SEED=alice=100\n"+
			"PULLPAY_PORT=7000\n"), 0o600))
	t.Cleanup(func() {
		for _, k := range keys {
			os.Unsetenv(k)
		}
	})

	cfg, err := LoadConfig(envFile)
	require.NoError(t, err)

	assert.Equal(t, "from-file", cfg.Auth.JWTSecret)
	assert.Equal(t, LedgerSQLite, cfg.Ledger.Driver)
	assert.Equal(t, "file:ledger.db", cfg.Ledger.DSN)
	assert.Equal(t, map[string]uint64{"alice": 100}, cfg.Bank.Seed)
	assert.Equal(t, "9000", cfg.Server.Port)
}

func TestLoadConfigInvalid(t *testing.T) {
	t.Setenv("PULLPAY_JWT_SECRET", "")
	os.Unsetenv("PULLPAY_JWT_SECRET")

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)

	t.Setenv("PULLPAY_JWT_SECRET", "secret")
	t.Setenv("PULLPAY_BANK_SEED", "alice")
	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}
