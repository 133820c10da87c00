package config

import (
	"errors"
	"fmt"
	"slices"
)

// Sentinel errors for configuration validation.
// Check with errors.Is().
var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates the completion provider API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModel indicates the model name is invalid.
	ErrInvalidModel = errors.New("invalid model name")

	// ErrInvalidTemperature indicates the temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidHistoryLimit indicates the history limit is out of range.
	ErrInvalidHistoryLimit = errors.New("invalid history limit")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrMissingTokenSecret indicates a JWT signing secret is not set.
	ErrMissingTokenSecret = errors.New("missing token secret")

	// ErrWeakTokenSecret indicates a JWT signing secret is too short.
	ErrWeakTokenSecret = errors.New("token secret too short")
)

// validSSLModes are the sslmode values accepted by the pgx driver.
var validSSLModes = []string{"disable", "allow", "prefer", "require", "verify-ca", "verify-full"}

// MinTokenSecretLength is the minimum accepted length for JWT signing
// secrets. 32 bytes matches the HMAC-SHA256 block recommendation.
const MinTokenSecretLength = 32

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if c.Model == "" {
		return fmt.Errorf("%w: model cannot be empty", ErrInvalidModel)
	}

	// Temperature range per the OpenAI API: 0.0 to 2.0
	if c.Temperature < 0.0 || c.Temperature > 2.0 {
		return fmt.Errorf("%w: must be between 0.0 and 2.0, got %.2f", ErrInvalidTemperature, c.Temperature)
	}

	if c.HistoryLimit < 1 || c.HistoryLimit > 1000 {
		return fmt.Errorf("%w: must be between 1 and 1000, got %d", ErrInvalidHistoryLimit, c.HistoryLimit)
	}

	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}

	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}

	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}

	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: got %q, expected one of %v", ErrInvalidPostgresSSLMode, c.PostgresSSLMode, validSSLModes)
	}

	return nil
}

// ValidateServe performs the additional checks required to run the HTTP
// server: provider credentials and JWT secrets must be present.
// Kept separate from Validate so offline commands (migrate, version)
// work without secrets.
func (c *Config) ValidateServe() error {
	if c == nil {
		return ErrConfigNil
	}

	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("%w: OPENAI_API_KEY environment variable is required", ErrMissingAPIKey)
	}

	for name, secret := range map[string]string{
		"access_token_secret":  c.AccessTokenSecret,
		"refresh_token_secret": c.RefreshTokenSecret,
	} {
		if secret == "" {
			return fmt.Errorf("%w: %s is required", ErrMissingTokenSecret, name)
		}
		if len(secret) < MinTokenSecretLength {
			return fmt.Errorf("%w: %s must be at least %d bytes", ErrWeakTokenSecret, name, MinTokenSecretLength)
		}
	}

	return nil
}
