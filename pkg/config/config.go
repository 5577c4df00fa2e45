// Package config loads engine configuration: process-level settings from
// environment variables and tuning profiles from YAML files.
package config

import "os"

// Config holds process-level configuration.
type Config struct {
	LogLevel string

	// DatabaseURL is the Postgres DSN for the session record store.
	DatabaseURL string

	// SQLitePath backs the embedded stores when Postgres is not used.
	SQLitePath string

	// RedisAddr enables the Redis learning-store backend when set.
	RedisAddr string

	// LLMServiceURL is an OpenAI-compatible chat completions endpoint.
	LLMServiceURL string
	LLMAPIKey     string

	// GeminiAPIKey enables the Gemini evaluator client.
	GeminiAPIKey string

	// OTLPEndpoint receives traces and metrics when set.
	OTLPEndpoint string

	DataDir     string
	ProfilesDir string
	Profile     string
}

// Load reads configuration from environment variables, applying local
// development defaults.
func Load() *Config {
	cfg := &Config{
		LogLevel:      os.Getenv("ACCORD_LOG_LEVEL"),
		DatabaseURL:   os.Getenv("ACCORD_DATABASE_URL"),
		SQLitePath:    os.Getenv("ACCORD_SQLITE_PATH"),
		RedisAddr:     os.Getenv("ACCORD_REDIS_ADDR"),
		LLMServiceURL: os.Getenv("ACCORD_LLM_URL"),
		LLMAPIKey:     os.Getenv("ACCORD_LLM_API_KEY"),
		GeminiAPIKey:  os.Getenv("GEMINI_API_KEY"),
		OTLPEndpoint:  os.Getenv("ACCORD_OTLP_ENDPOINT"),
		DataDir:       os.Getenv("ACCORD_DATA_DIR"),
		ProfilesDir:   os.Getenv("ACCORD_PROFILES_DIR"),
		Profile:       os.Getenv("ACCORD_PROFILE"),
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = "INFO"
	}
	if cfg.SQLitePath == "" {
		cfg.SQLitePath = "data/accord.db"
	}
	if cfg.LLMServiceURL == "" {
		// LM Studio local default
		cfg.LLMServiceURL = "http://localhost:1234/v1/chat/completions"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}
	if cfg.ProfilesDir == "" {
		cfg.ProfilesDir = "profiles"
	}
	if cfg.Profile == "" {
		cfg.Profile = "default"
	}

	return cfg
}
