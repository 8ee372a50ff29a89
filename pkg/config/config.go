package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Ledger drivers
const (
	LedgerMemory   = "memory"
	LedgerSQLite   = "sqlite"
	LedgerPostgres = "postgres"
	LedgerRedis    = "redis"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Ledger        LedgerConfig
	Auth          AuthConfig
	Plugin        PluginConfig
	Bank          BankConfig
	Collector     CollectorConfig
	Audit         AuditConfig
	RateLimit     RateLimitConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// LedgerConfig selects and configures the subscription ledger backend
type LedgerConfig struct {
	Driver       string
	DSN          string // sqlite path or postgres URL
	RedisURL     string
	MaxOpenConns int
	Migrate      bool
}

// AuthConfig configures the ownership validator
type AuthConfig struct {
	JWTSecret      string
	Issuer         string
	TokenCacheSize int
	TokenCacheTTL  time.Duration
}

// PluginConfig configures the subscription plugin's manifest source
type PluginConfig struct {
	// ManifestPath, when set, is loaded at startup and watched for changes.
	// The built-in manifest is used otherwise.
	ManifestPath string
}

// BankConfig configures the in-memory bank
type BankConfig struct {
	// Seed holds opening balances, "account=amount,account=amount"
	Seed map[string]uint64
}

// CollectorConfig configures scheduled collection
type CollectorConfig struct {
	Enabled     bool
	Schedule    string
	Payees      []string
	Concurrency int
	TokenTTL    time.Duration

	// Standalone collector
	APIURL string
	Token  string
}

// AuditConfig configures the audit trail
type AuditConfig struct {
	Dir      string // empty disables the file audit log
	MaxSize  int64
	MaxFiles int
}

// Rate limiter backends
const (
	RateLimitMemory = "memory"
	RateLimitRedis  = "redis"
)

// RateLimitConfig configures per-credential throttling of the /v1 API
type RateLimitConfig struct {
	Enabled           bool
	Backend           string
	RequestsPerMinute int
	Burst             int
	RedisURL          string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
	OTelSampleRatio    float64
}

// LoadConfig loads and validates the server configuration. See Load.
func LoadConfig(envFiles ...string) (*Config, error) {
	cfg, err := Load(envFiles...)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Load reads configuration from environment variables after applying
// envFiles (default ".env") without validating it. Variables already set in
// the environment win over file values; missing files are ignored.
func Load(envFiles ...string) (*Config, error) {
	if err := loadEnvFiles(envFiles...); err != nil {
		return nil, err
	}

	bank, err := loadBankConfig()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server:        loadServerConfig(),
		Ledger:        loadLedgerConfig(),
		Auth:          loadAuthConfig(),
		Plugin:        PluginConfig{ManifestPath: getEnv("PULLPAY_MANIFEST_PATH", "")},
		Bank:          bank,
		Collector:     loadCollectorConfig(),
		Audit:         loadAuditConfig(),
		RateLimit:     loadRateLimitConfig(),
		Observability: loadObservabilityConfig(),
	}

	return cfg, nil
}

func loadEnvFiles(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				logrus.WithField("file", f).Debug("Env file not found, skipping")
				continue
			}
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("PULLPAY_HOST", "0.0.0.0"),
		Port:            getEnv("PULLPAY_PORT", "8080"),
		ReadTimeout:     getEnvDuration("PULLPAY_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("PULLPAY_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("PULLPAY_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("PULLPAY_SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

func loadLedgerConfig() LedgerConfig {
	return LedgerConfig{
		Driver:       strings.ToLower(getEnv("PULLPAY_LEDGER_DRIVER", LedgerMemory)),
		DSN:          getEnv("PULLPAY_LEDGER_DSN", ""),
		RedisURL:     getEnv("PULLPAY_REDIS_URL", ""),
		MaxOpenConns: getEnvInt("PULLPAY_LEDGER_MAX_CONNS", 10),
		Migrate:      getEnvBool("PULLPAY_LEDGER_MIGRATE", true),
	}
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		JWTSecret:      getEnv("PULLPAY_JWT_SECRET", ""),
		Issuer:         getEnv("PULLPAY_JWT_ISSUER", "pullpay"),
		TokenCacheSize: getEnvInt("PULLPAY_TOKEN_CACHE_SIZE", 1024),
		TokenCacheTTL:  getEnvDuration("PULLPAY_TOKEN_CACHE_TTL", 5*time.Minute),
	}
}

func loadBankConfig() (BankConfig, error) {
	seed, err := parseSeed(getEnv("PULLPAY_BANK_SEED", ""))
	if err != nil {
		return BankConfig{}, fmt.Errorf("invalid PULLPAY_BANK_SEED: %w", err)
	}
	return BankConfig{Seed: seed}, nil
}

func loadCollectorConfig() CollectorConfig {
	return CollectorConfig{
		Enabled:     getEnvBool("PULLPAY_COLLECTOR_ENABLED", false),
		Schedule:    getEnv("PULLPAY_COLLECTOR_SCHEDULE", "@hourly"),
		Payees:      getEnvList("PULLPAY_COLLECTOR_PAYEES"),
		Concurrency: getEnvInt("PULLPAY_COLLECTOR_CONCURRENCY", 4),
		TokenTTL:    getEnvDuration("PULLPAY_COLLECTOR_TOKEN_TTL", 5*time.Minute),
		APIURL:      getEnv("PULLPAY_API_URL", "http://localhost:8080"),
		Token:       getEnv("PULLPAY_COLLECTOR_TOKEN", ""),
	}
}

func loadAuditConfig() AuditConfig {
	return AuditConfig{
		Dir:      getEnv("PULLPAY_AUDIT_DIR", ""),
		MaxSize:  getEnvInt64("PULLPAY_AUDIT_MAX_SIZE", 100*1024*1024),
		MaxFiles: getEnvInt("PULLPAY_AUDIT_MAX_FILES", 10),
	}
}

func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:           getEnvBool("PULLPAY_RATELIMIT_ENABLED", false),
		Backend:           strings.ToLower(getEnv("PULLPAY_RATELIMIT_BACKEND", RateLimitMemory)),
		RequestsPerMinute: getEnvInt("PULLPAY_RATELIMIT_RPM", 120),
		Burst:             getEnvInt("PULLPAY_RATELIMIT_BURST", 20),
		RedisURL:          getEnv("PULLPAY_RATELIMIT_REDIS_URL", getEnv("PULLPAY_REDIS_URL", "")),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           strings.ToLower(getEnv("PULLPAY_LOG_LEVEL", "info")),
		LogFormat:          strings.ToLower(getEnv("PULLPAY_LOG_FORMAT", "json")),
		MetricsEnabled:     getEnvBool("PULLPAY_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("PULLPAY_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("PULLPAY_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("PULLPAY_OTEL_SERVICE_NAME", "pullpayd"),
		OTelServiceVersion: getEnv("PULLPAY_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("PULLPAY_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("PULLPAY_OTEL_SAMPLE_RATIO", 1),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := validatePort(c.Server.Port); err != nil {
		return fmt.Errorf("server port: %w", err)
	}

	switch c.Ledger.Driver {
	case LedgerMemory:
	case LedgerSQLite, LedgerPostgres:
		if c.Ledger.DSN == "" {
			return fmt.Errorf("ledger DSN is required for %s ledger", c.Ledger.Driver)
		}
	case LedgerRedis:
		if c.Ledger.RedisURL == "" {
			return fmt.Errorf("redis URL is required for redis ledger")
		}
	default:
		return fmt.Errorf("invalid ledger driver: %s (must be memory, sqlite, postgres, or redis)", c.Ledger.Driver)
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT secret is required")
	}
	if c.Auth.TokenCacheSize < 0 {
		return fmt.Errorf("token cache size must not be negative")
	}

	if c.Collector.Enabled {
		if _, err := cron.ParseStandard(c.Collector.Schedule); err != nil {
			return fmt.Errorf("invalid collector schedule %q: %w", c.Collector.Schedule, err)
		}
		if len(c.Collector.Payees) == 0 {
			return fmt.Errorf("collector payees are required when the collector is enabled")
		}
		if c.Collector.Concurrency < 1 {
			return fmt.Errorf("collector concurrency must be at least 1")
		}
	}

	if c.RateLimit.Enabled {
		switch c.RateLimit.Backend {
		case RateLimitMemory:
		case RateLimitRedis:
			if c.RateLimit.RedisURL == "" {
				return fmt.Errorf("redis URL is required for the redis rate limiter")
			}
		default:
			return fmt.Errorf("invalid rate limit backend: %s (must be memory or redis)", c.RateLimit.Backend)
		}
		if c.RateLimit.RequestsPerMinute < 1 {
			return fmt.Errorf("rate limit must allow at least one request per minute")
		}
		if c.RateLimit.Burst < 0 {
			return fmt.Errorf("rate limit burst must not be negative")
		}
	}

	if _, err := logrus.ParseLevel(c.Observability.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// CollectorOnlyValidate checks the settings the standalone collector uses
func (c *Config) CollectorOnlyValidate() error {
	if _, err := cron.ParseStandard(c.Collector.Schedule); err != nil {
		return fmt.Errorf("invalid collector schedule %q: %w", c.Collector.Schedule, err)
	}
	if len(c.Collector.Payees) != 1 {
		return fmt.Errorf("standalone collector needs exactly one payee")
	}
	if c.Collector.Token == "" {
		return fmt.Errorf("collector token is required")
	}
	if c.Collector.APIURL == "" {
		return fmt.Errorf("API URL is required")
	}
	return nil
}

func validatePort(port string) error {
	n, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("invalid port %q", port)
	}
	if n < 1 || n > 65535 {
		return fmt.Errorf("port %d out of range", n)
	}
	return nil
}

func parseSeed(value string) (map[string]uint64, error) {
	seed := make(map[string]uint64)
	for _, pair := range splitList(value) {
		account, amount, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(account) == "" {
			return nil, fmt.Errorf("expected account=amount, got %q", pair)
		}
		n, err := strconv.ParseUint(strings.TrimSpace(amount), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid amount for %s: %w", account, err)
		}
		seed[strings.TrimSpace(account)] = n
	}
	return seed, nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList returns a comma separated environment variable as a list
func getEnvList(key string) []string {
	return splitList(os.Getenv(key))
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
