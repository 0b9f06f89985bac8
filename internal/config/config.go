package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Change feed backends for live record subscriptions
const (
	ChangeFeedPostgres = "postgres"
	ChangeFeedRedis    = "redis"
)

// ConfigPathEnv names the environment variable holding an optional YAML config file
const ConfigPathEnv = "HEALTHCTL_CONFIG"

// Config holds application configuration.
// Values come from an optional YAML file and are overridden by environment variables.
type Config struct {
	DatabaseURL      string `yaml:"database_url"`
	IdentityAPIKey   string `yaml:"identity_api_key"`
	IdentityBaseURL  string `yaml:"identity_base_url"`
	SecureTokenURL   string `yaml:"secure_token_url"`
	IdentityJWKSURL  string `yaml:"identity_jwks_url"`
	IdentityIssuer   string `yaml:"identity_issuer"`
	ResetReturnURL   string `yaml:"reset_return_url"`
	BackendURL       string `yaml:"backend_url"`
	RedisURL         string `yaml:"redis_url"`
	ChangeFeed       string `yaml:"change_feed"`
	ResetRequestRate string `yaml:"reset_request_rate"`
	RabbitMQURL      string `yaml:"rabbitmq_url"`
	RabbitMQPrefetch int    `yaml:"rabbitmq_prefetch"`
	Profile          string `yaml:"profile"`
	DebugMode        bool   `yaml:"debug_mode"`
	LogJSON          bool   `yaml:"log_json"`
	OTELEnabled      bool   `yaml:"otel_enabled"`
	OTELEndpoint     string `yaml:"otel_endpoint"`
	SentryDSN        string `yaml:"sentry_dsn"`
	Environment      string `yaml:"environment"`
}

// Defaults returns the configuration used when nothing is set
func Defaults() *Config {
	return &Config{
		IdentityBaseURL:  "https://identitytoolkit.googleapis.com/v1",
		SecureTokenURL:   "https://securetoken.googleapis.com/v1/token",
		IdentityJWKSURL:  "https://www.googleapis.com/service_accounts/v1/jwk/securetoken@system.gserviceaccount.com",
		ResetReturnURL:   "http://localhost:3000/forgot-password",
		BackendURL:       "http://localhost:5000",
		RedisURL:         "redis://localhost:6379/0",
		ChangeFeed:       ChangeFeedPostgres,
		ResetRequestRate: "5-H",
		RabbitMQPrefetch: 1,
		Profile:          "default",
		Environment:      "development",
	}
}

// Load loads configuration from the file named by HEALTHCTL_CONFIG (if any) and environment variables
func Load() (*Config, error) {
	return LoadWithFile(os.Getenv(ConfigPathEnv))
}

// LoadWithFile loads configuration from path (may be empty) and environment variables
func LoadWithFile(path string) (*Config, error) {
	return load(os.LookupEnv, path)
}

func load(lookup func(string) (string, bool), path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	env := envReader{lookup: lookup}
	cfg.DatabaseURL = env.str("DATABASE_URL", cfg.DatabaseURL)
	cfg.IdentityAPIKey = env.str("IDENTITY_API_KEY", cfg.IdentityAPIKey)
	cfg.IdentityBaseURL = env.str("IDENTITY_BASE_URL", cfg.IdentityBaseURL)
	cfg.SecureTokenURL = env.str("SECURE_TOKEN_URL", cfg.SecureTokenURL)
	cfg.IdentityJWKSURL = env.str("IDENTITY_JWKS_URL", cfg.IdentityJWKSURL)
	cfg.IdentityIssuer = env.str("IDENTITY_ISSUER", cfg.IdentityIssuer)
	cfg.ResetReturnURL = env.str("RESET_RETURN_URL", cfg.ResetReturnURL)
	cfg.BackendURL = env.str("BACKEND_URL", cfg.BackendURL)
	cfg.RedisURL = env.str("REDIS_URL", cfg.RedisURL)
	cfg.ChangeFeed = strings.ToLower(env.str("CHANGE_FEED", cfg.ChangeFeed))
	cfg.ResetRequestRate = env.str("RESET_REQUEST_RATE", cfg.ResetRequestRate)
	cfg.RabbitMQURL = env.str("RABBITMQ_URL", cfg.RabbitMQURL)
	cfg.RabbitMQPrefetch = env.int("RABBITMQ_PREFETCH", cfg.RabbitMQPrefetch)
	cfg.Profile = env.str("PROFILE", cfg.Profile)
	cfg.DebugMode = env.bool("DEBUG_MODE", cfg.DebugMode)
	cfg.LogJSON = env.bool("LOG_JSON", cfg.LogJSON)
	cfg.OTELEnabled = env.bool("OTEL_ENABLED", cfg.OTELEnabled)
	cfg.OTELEndpoint = env.str("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTELEndpoint)
	cfg.SentryDSN = env.str("SENTRY_DSN", cfg.SentryDSN)
	cfg.Environment = env.str("APP_ENV", cfg.Environment)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required settings
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.IdentityAPIKey == "" {
		return fmt.Errorf("IDENTITY_API_KEY is required")
	}
	switch c.ChangeFeed {
	case ChangeFeedPostgres, ChangeFeedRedis:
	default:
		return fmt.Errorf("CHANGE_FEED must be %q or %q, got %q", ChangeFeedPostgres, ChangeFeedRedis, c.ChangeFeed)
	}
	return nil
}

type envReader struct {
	lookup func(string) (string, bool)
}

func (e envReader) str(key, defaultValue string) string {
	if value, ok := e.lookup(key); ok && value != "" {
		return value
	}
	return defaultValue
}

func (e envReader) bool(key string, defaultValue bool) bool {
	if value, ok := e.lookup(key); ok && value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func (e envReader) int(key string, defaultValue int) int {
	if value, ok := e.lookup(key); ok && value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
