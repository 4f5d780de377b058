package config

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for configuration validation.
var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidModelName indicates a model name is empty or malformed.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidTopK indicates top_k is out of range.
	ErrInvalidTopK = errors.New("invalid top_k")

	// ErrInvalidOversample indicates the oversample factor is out of range.
	ErrInvalidOversample = errors.New("invalid oversample")

	// ErrInvalidLambda indicates lambda is outside [0, 1].
	ErrInvalidLambda = errors.New("invalid lambda")

	// ErrInvalidTokenCap indicates the token cap is out of range.
	ErrInvalidTokenCap = errors.New("invalid token_cap")

	// ErrInvalidLengthThreshold indicates the length threshold is out of range.
	ErrInvalidLengthThreshold = errors.New("invalid length_threshold")
)

// validSSLModes are the sslmode values accepted by libpq/pgx.
var validSSLModes = map[string]struct{}{
	"disable":     {},
	"allow":       {},
	"prefer":      {},
	"require":     {},
	"verify-ca":   {},
	"verify-full": {},
}

// Validate checks the full configuration, fail-fast with wrapped sentinels.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	switch c.Provider {
	case ProviderGemini, ProviderGoogleAI:
	default:
		return fmt.Errorf("%w: %q (expected gemini or googleai)", ErrInvalidProvider, c.Provider)
	}

	for _, m := range []struct{ name, value string }{
		{"generation_model", c.GenerationModel},
		{"decision_model", c.DecisionModel},
		{"embedder_model", c.EmbedderModel},
	} {
		if strings.TrimSpace(m.value) == "" {
			return fmt.Errorf("%w: %s is empty", ErrInvalidModelName, m.name)
		}
	}

	if strings.TrimSpace(c.PostgresHost) == "" {
		return fmt.Errorf("%w: host is empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d (expected 1-65535)", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if _, ok := validSSLModes[c.PostgresSSLMode]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidPostgresSSLMode, c.PostgresSSLMode)
	}

	return c.Tuning.validate()
}

// validate checks the tuning section. Used both at startup and on hot reload,
// so a bad edit never replaces a working snapshot.
func (t Tuning) validate() error {
	if t.TopK < 1 || t.TopK > 100 {
		return fmt.Errorf("%w: %d (expected 1-100)", ErrInvalidTopK, t.TopK)
	}
	if t.Oversample < 1 || t.Oversample > 20 {
		return fmt.Errorf("%w: %d (expected 1-20)", ErrInvalidOversample, t.Oversample)
	}
	if t.Lambda < 0 || t.Lambda > 1 {
		return fmt.Errorf("%w: %g (expected 0.0-1.0)", ErrInvalidLambda, t.Lambda)
	}
	if t.TokenCap < 1 || t.TokenCap > 10000 {
		return fmt.Errorf("%w: %d (expected 1-10000)", ErrInvalidTokenCap, t.TokenCap)
	}
	if t.LengthThreshold < 1 {
		return fmt.Errorf("%w: %d (expected >= 1)", ErrInvalidLengthThreshold, t.LengthThreshold)
	}
	return nil
}
