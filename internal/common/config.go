package common

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	LLM      LLMConfig
	Batch    BatchConfig
	Engine   EngineConfig
	Paths    PathsConfig
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	DialTimeout     time.Duration
}

// LLMConfig holds per-row provider call configuration
type LLMConfig struct {
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float32
	Timeout     time.Duration
}

// BatchConfig holds asynchronous batch provider configuration
type BatchConfig struct {
	Provider         string // "openai" or "anthropic"
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	AnthropicAPIKey  string
	AnthropicBaseURL string
	AnthropicModel   string
	Timeout          time.Duration
}

// EngineConfig holds concurrent execution defaults
type EngineConfig struct {
	Concurrency      int
	MaxAttempts      int
	InitialBackoff   time.Duration
	RateLimitBackoff time.Duration
	MaxBackoff       time.Duration
}

// PathsConfig holds the on-disk roots owned by the orchestration core
type PathsConfig struct {
	StateDir  string // job status + pipeline state documents
	OutputDir string // per-row artifacts and failure documents
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			DSN:             getEnv("DB_URL", ""),
			MaxConns:        getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:        getEnvAsInt32("DB_MIN_CONNS", 5),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:     getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
		},
		LLM: LLMConfig{
			Model:       getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			APIKey:      getEnv("OPENAI_API_KEY", ""),
			BaseURL:     getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			Temperature: getEnvAsFloat32("OPENAI_TEMPERATURE", 0.0),
			Timeout:     getEnvAsDuration("OPENAI_TIMEOUT", 45*time.Second),
		},
		Batch: BatchConfig{
			Provider:         getEnv("BATCH_PROVIDER", "openai"),
			OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
			OpenAIBaseURL:    getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			AnthropicAPIKey:  getEnv("ANTHROPIC_API_KEY", ""),
			AnthropicBaseURL: getEnv("ANTHROPIC_BASE_URL", "https://api.anthropic.com/v1"),
			AnthropicModel:   getEnv("ANTHROPIC_MODEL", "claude-3-5-sonnet-20241022"),
			Timeout:          getEnvAsDuration("BATCH_HTTP_TIMEOUT", 60*time.Second),
		},
		Engine: EngineConfig{
			Concurrency:      getEnvAsInt("ENGINE_CONCURRENCY", 8),
			MaxAttempts:      getEnvAsInt("ENGINE_MAX_ATTEMPTS", 3),
			InitialBackoff:   getEnvAsDuration("ENGINE_INITIAL_BACKOFF", 2*time.Second),
			RateLimitBackoff: getEnvAsDuration("ENGINE_RATE_LIMIT_BACKOFF", 15*time.Second),
			MaxBackoff:       getEnvAsDuration("ENGINE_MAX_BACKOFF", 60*time.Second),
		},
		Paths: PathsConfig{
			StateDir:  getEnv("STATE_DIR", "./state"),
			OutputDir: getEnv("OUTPUT_DIR", "./output"),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.LLM.APIKey == "" {
		return NewAppError("CONFIG_ERROR", "OPENAI_API_KEY is required", ErrConfiguration)
	}
	if c.Engine.Concurrency <= 0 {
		return NewAppError("CONFIG_ERROR", "ENGINE_CONCURRENCY must be positive", ErrConfiguration)
	}
	if c.Paths.StateDir == "" || c.Paths.OutputDir == "" {
		return NewAppError("CONFIG_ERROR", "STATE_DIR and OUTPUT_DIR are required", ErrConfiguration)
	}
	return nil
}
