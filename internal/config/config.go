package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the taskbridge server. It is read
// once at startup and passed by reference to every component.
type Config struct {
	// Auth settings
	AuthType     string // "oauth", "pat" or "app"
	ClientID     string
	ClientSecret string
	Token        string
	AppID        string
	PrivateKey   string

	// Conversion settings
	DefaultRepository string

	// Client settings
	RequestTimeout       time.Duration
	RateLimitRetryBuffer int
	MaxRetries           int

	// Server settings
	ServerName  string
	Environment string
	HTTPAddr    string // optional HTTP transport; empty means stdio only
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		AuthType:             getEnv("AUTH_TYPE", "oauth"),
		ClientID:             os.Getenv("GITHUB_CLIENT_ID"),
		ClientSecret:         os.Getenv("GITHUB_CLIENT_SECRET"),
		Token:                os.Getenv("GITHUB_TOKEN"),
		AppID:                os.Getenv("GITHUB_APP_ID"),
		PrivateKey:           normalizePrivateKey(os.Getenv("GITHUB_PRIVATE_KEY")),
		DefaultRepository:    os.Getenv("DEFAULT_REPOSITORY"),
		RequestTimeout:       time.Duration(getEnvInt("REQUEST_TIMEOUT_MS", 30000)) * time.Millisecond,
		RateLimitRetryBuffer: getEnvInt("RATE_LIMIT_RETRY_BUFFER", 100),
		MaxRetries:           getEnvInt("MAX_RETRIES", 3),
		ServerName:           getEnv("SERVER_NAME", "speckit-github"),
		Environment:          getEnv("ENVIRONMENT", "development"),
		HTTPAddr:             os.Getenv("HTTP_ADDR"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate checks that the chosen auth mode's required fields are
// present and numeric settings are sane. Missing fields are a startup
// failure, never a silent fallback to another mode.
func (c *Config) validate() error {
	switch c.AuthType {
	case "oauth":
		if c.ClientID == "" || c.ClientSecret == "" {
			return fmt.Errorf("GITHUB_CLIENT_ID and GITHUB_CLIENT_SECRET are required for oauth auth")
		}
	case "pat":
		if c.Token == "" {
			return fmt.Errorf("GITHUB_TOKEN is required for pat auth")
		}
	case "app":
		if c.AppID == "" || c.PrivateKey == "" {
			return fmt.Errorf("GITHUB_APP_ID and GITHUB_PRIVATE_KEY are required for app auth")
		}
	default:
		return fmt.Errorf("invalid AUTH_TYPE: %s (must be 'oauth', 'pat' or 'app')", c.AuthType)
	}

	if c.DefaultRepository != "" && !isRepoShape(c.DefaultRepository) {
		return fmt.Errorf("DEFAULT_REPOSITORY must be owner/name, got %q", c.DefaultRepository)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT_MS must be greater than 0")
	}
	if c.RateLimitRetryBuffer < 0 {
		return fmt.Errorf("RATE_LIMIT_RETRY_BUFFER must not be negative")
	}
	if c.MaxRetries <= 0 {
		return fmt.Errorf("MAX_RETRIES must be greater than 0")
	}
	return nil
}

func isRepoShape(repo string) bool {
	parts := strings.Split(repo, "/")
	return len(parts) == 2 && parts[0] != "" && parts[1] != ""
}

func normalizePrivateKey(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}

	if strings.HasPrefix(trimmed, "\"") && strings.HasSuffix(trimmed, "\"") {
		trimmed = strings.TrimPrefix(trimmed, "\"")
		trimmed = strings.TrimSuffix(trimmed, "\"")
	}
	if strings.HasPrefix(trimmed, "'") && strings.HasSuffix(trimmed, "'") {
		trimmed = strings.TrimPrefix(trimmed, "'")
		trimmed = strings.TrimSuffix(trimmed, "'")
	}

	trimmed = strings.ReplaceAll(trimmed, "\r\n", "\n")
	trimmed = strings.ReplaceAll(trimmed, "\r", "\n")
	if strings.Contains(trimmed, "\\n") {
		trimmed = strings.ReplaceAll(trimmed, "\\r", "")
		trimmed = strings.ReplaceAll(trimmed, "\\n", "\n")
	}

	return trimmed
}

// getEnv gets environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets environment variable as int with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
