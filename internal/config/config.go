// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.parley/config.yaml or ./config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - Server: listen address, CORS origins, proxy trust, rate limiting
//   - Storage: PostgreSQL connection (see storage.go)
//   - Provider: OpenAI-compatible completion endpoint
//   - Auth: JWT signing secrets and token lifetimes
//   - Tracing: OTLP trace export (optional)
//
// Security: sensitive fields (password, API key, JWT secrets) are masked
// in MarshalJSON so the config can be logged safely.
//
// Error handling uses sentinel errors checked with errors.Is(); see
// validation.go.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

const (
	// DefaultHistoryLimit is the number of prior messages included in the
	// completion context for each chat turn.
	DefaultHistoryLimit = 20

	// DefaultSystemPrompt is used when an agent has no system prompt
	// configured for the bound version.
	DefaultSystemPrompt = "You are a helpful AI assistant."

	// DefaultAddr is the default HTTP listen address.
	DefaultAddr = "127.0.0.1:3000"
)

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields, update MarshalJSON.
type Config struct {
	// Server configuration
	Addr        string   `mapstructure:"addr" json:"addr"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy" json:"trust_proxy"` // trust X-Real-IP/X-Forwarded-For (behind reverse proxy)
	RateBurst   int      `mapstructure:"rate_burst" json:"rate_burst"`   // per-IP token bucket burst (0 = default)

	// Completion provider configuration (OpenAI-compatible endpoint)
	OpenAIAPIKey  string  `mapstructure:"openai_api_key" json:"openai_api_key"` // SENSITIVE: masked in MarshalJSON
	OpenAIBaseURL string  `mapstructure:"openai_base_url" json:"openai_base_url"`
	Model         string  `mapstructure:"model" json:"model"`
	Temperature   float32 `mapstructure:"temperature" json:"temperature"`

	// Conversation context configuration
	HistoryLimit int `mapstructure:"history_limit" json:"history_limit"`

	// Storage configuration (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Auth configuration
	AccessTokenSecret  string        `mapstructure:"access_token_secret" json:"access_token_secret"`   // SENSITIVE: masked in MarshalJSON
	RefreshTokenSecret string        `mapstructure:"refresh_token_secret" json:"refresh_token_secret"` // SENSITIVE: masked in MarshalJSON
	AccessTokenTTL     time.Duration `mapstructure:"access_token_ttl" json:"access_token_ttl"`
	RefreshTokenTTL    time.Duration `mapstructure:"refresh_token_ttl" json:"refresh_token_ttl"`

	// Tracing configuration (see tracing in observability package)
	Tracing TracingConfig `mapstructure:"tracing" json:"tracing"`

	// Logging configuration
	LogLevel string `mapstructure:"log_level" json:"log_level"`
	LogJSON  bool   `mapstructure:"log_json" json:"log_json"`
}

// TracingConfig configures optional OTLP trace export.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled" json:"enabled"`
	AgentHost   string `mapstructure:"agent_host" json:"agent_host"`
	Environment string `mapstructure:"environment" json:"environment"`
	ServiceName string `mapstructure:"service_name" json:"service_name"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".parley")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".") // also support current directory

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// Missing config file is fine, defaults apply
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL has the highest priority for PostgreSQL settings
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	// Server defaults
	viper.SetDefault("addr", DefaultAddr)
	viper.SetDefault("cors_origins", []string{"http://localhost:5173"})
	viper.SetDefault("trust_proxy", false)
	viper.SetDefault("rate_burst", 0)

	// Provider defaults
	viper.SetDefault("openai_base_url", "https://api.openai.com/v1")
	viper.SetDefault("model", "gpt-4o-mini")
	viper.SetDefault("temperature", 0.7)
	viper.SetDefault("history_limit", DefaultHistoryLimit)

	// PostgreSQL defaults for local development
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "parley")
	viper.SetDefault("postgres_password", "parley_dev_password")
	viper.SetDefault("postgres_db_name", "parley")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// Auth defaults (secrets have no default; see Validate)
	viper.SetDefault("access_token_ttl", 15*time.Minute)
	viper.SetDefault("refresh_token_ttl", 7*24*time.Hour)

	// Tracing defaults
	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.agent_host", "localhost:4318")
	viper.SetDefault("tracing.environment", "dev")
	viper.SetDefault("tracing.service_name", "parley")

	// Logging defaults
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_json", false)
}

// bindEnvVariables binds environment variables explicitly.
// Secrets are env-only in production deployments; the config file
// remains usable for local development.
func bindEnvVariables() {
	// Hardcoded keys cannot fail to bind; a panic here is a bug.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("openai_api_key", "OPENAI_API_KEY")
	mustBind("openai_base_url", "OPENAI_BASE_URL")
	mustBind("model", "OPENAI_MODEL")

	mustBind("access_token_secret", "ACCESS_TOKEN_SECRET")
	mustBind("refresh_token_secret", "REFRESH_TOKEN_SECRET")

	mustBind("addr", "PARLEY_ADDR")
	mustBind("cors_origins", "PARLEY_CORS_ORIGINS")
	mustBind("trust_proxy", "PARLEY_TRUST_PROXY")
	mustBind("rate_burst", "PARLEY_RATE_BURST")
	mustBind("log_level", "PARLEY_LOG_LEVEL")
	mustBind("log_json", "PARLEY_LOG_JSON")
}

// maskedValue is the placeholder for masked sensitive data.
const maskedValue = "********"

// maskSecret masks a secret string for safe logging.
// Short secrets are fully masked; longer ones keep the first and last
// two characters for debug utility. This defends against accidental
// logging, not against compromised logs.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field
// masking, so the effective configuration can be logged at startup.
func (c *Config) MarshalJSON() ([]byte, error) {
	type alias Config // avoid recursive MarshalJSON
	masked := alias(*c)
	masked.PostgresPassword = maskSecret(c.PostgresPassword)
	masked.OpenAIAPIKey = maskSecret(c.OpenAIAPIKey)
	masked.AccessTokenSecret = maskSecret(c.AccessTokenSecret)
	masked.RefreshTokenSecret = maskSecret(c.RefreshTokenSecret)
	return json.Marshal(masked)
}
