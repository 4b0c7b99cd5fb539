// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Language providers.
const (
	ProviderOpenAI = "openai"
	ProviderGRPC   = "grpc"
	ProviderRules  = "rules"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	Env         string
	LogLevel    slog.Level
	DBPath      string
	FrontendURL string
	AgentsPath  string
	AgentsWatch bool
	Timezone    string
	Language    LanguageConfig
	Notify      NotifyConfig
}

// LanguageConfig selects and configures the Language Service provider.
type LanguageConfig struct {
	Provider      string
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string
	GRPCAddr      string
	Timeout       time.Duration
}

// NotifyConfig controls the downstream booking and lead notifications.
type NotifyConfig struct {
	APIURL                 string
	ServiceKey             string
	CalendarCredentialFile string
	CalendarID             string
	Timeout                time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("ENV", "development"),
		LogLevel:    getEnvLevel("LOG_LEVEL", slog.LevelInfo),
		DBPath:      getEnv("DB_PATH", "./data/leadflow.db"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		AgentsPath:  getEnv("AGENTS_PATH", "./agents/**/*.yaml"),
		AgentsWatch: getEnvBool("AGENTS_WATCH", true),
		Timezone:    getEnv("TIMEZONE", "America/Sao_Paulo"),
		Language: LanguageConfig{
			Provider:      strings.ToLower(getEnv("LANGUAGE_PROVIDER", ProviderOpenAI)),
			OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
			OpenAIModel:   getEnv("OPENAI_MODEL", ""),
			OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),
			GRPCAddr:      getEnv("LANGUAGE_GRPC_ADDR", ""),
			Timeout:       getEnvDuration("LANGUAGE_TIMEOUT", 30*time.Second),
		},
		Notify: NotifyConfig{
			APIURL:                 strings.TrimRight(getEnv("TRACELEADS_API_URL", "http://localhost:3000"), "/"),
			ServiceKey:             getEnv("INTERNAL_SERVICE_KEY", ""),
			CalendarCredentialFile: getEnv("GOOGLE_CALENDAR_CREDENTIALS_FILE", ""),
			CalendarID:             getEnv("GOOGLE_CALENDAR_ID", "primary"),
			Timeout:                getEnvDuration("NOTIFY_TIMEOUT", 10*time.Second),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.AgentsPath == "" {
		return fmt.Errorf("AGENTS_PATH cannot be empty")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("TIMEZONE %q: %w", c.Timezone, err)
	}

	switch c.Language.Provider {
	case ProviderOpenAI:
		if c.Language.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when LANGUAGE_PROVIDER=%s", ProviderOpenAI)
		}
	case ProviderGRPC:
		if c.Language.GRPCAddr == "" {
			return fmt.Errorf("LANGUAGE_GRPC_ADDR is required when LANGUAGE_PROVIDER=%s", ProviderGRPC)
		}
	case ProviderRules:
	default:
		return fmt.Errorf("unknown LANGUAGE_PROVIDER %q", c.Language.Provider)
	}

	if c.Language.Timeout <= 0 {
		return fmt.Errorf("LANGUAGE_TIMEOUT must be > 0")
	}
	if c.Notify.Timeout <= 0 {
		return fmt.Errorf("NOTIFY_TIMEOUT must be > 0")
	}
	return nil
}

// Location returns the time zone slots are computed in.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// AllowedOrigins returns the origins accepted by CORS and the WebSocket handshake.
func (c *Config) AllowedOrigins() []string {
	if c.FrontendURL == "" {
		return []string{"*"}
	}
	var origins []string
	for _, o := range strings.Split(c.FrontendURL, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	if strings.EqualFold(c.Env, "production") {
		return false
	}
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	// Bare integers are seconds.
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func getEnvLevel(key string, fallback slog.Level) slog.Level {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return fallback
	}
	return level
}
