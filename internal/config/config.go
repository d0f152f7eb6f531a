package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers accepted by STORE_DRIVER.
const (
	StoreDriverRedis  = "redis"
	StoreDriverFile   = "file"
	StoreDriverMemory = "memory"
)

// Config holds all application configuration.
type Config struct {
	ServerPort string
	GinMode    string
	LogLevel   string
	LogFormat  string

	// Assessment backend (assessment fetch, status PATCH, full submissions).
	BackendURL     string
	BackendTimeout time.Duration
	SubmitTimeout  time.Duration

	// Judge0-style code execution service.
	JudgeURL          string
	JudgeTimeout      time.Duration
	JudgePollInterval time.Duration
	JudgeMaxAttempts  int

	StoreDriver string
	RedisURL    string
	StateFile   string

	DefaultLanguageID int
	DefaultDuration   time.Duration
	ViolationLimit    int
	// RunRateLimit is the number of run/submit calls allowed per link and
	// client per minute.
	RunRateLimit int
	// SessionIdleTimeout evicts cached sessions nobody has used for this long.
	SessionIdleTimeout time.Duration

	// AllowedOrigins controls HTTP CORS and WebSocket origin validation.
	// Empty slice means all origins are permitted (dev default).
	AllowedOrigins []string
}

// Load reads configuration from environment variables with sensible defaults.
// It loads .env file if present but does not fail if missing.
func Load() *Config {
	_ = godotenv.Load() // .env is optional

	return &Config{
		ServerPort:         getEnv("SERVER_PORT", "8080"),
		GinMode:            getEnv("GIN_MODE", "debug"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", "pretty"),
		BackendURL:         strings.TrimRight(getEnv("BACKEND_URL", "http://localhost:8000"), "/"),
		BackendTimeout:     time.Duration(getEnvInt("BACKEND_TIMEOUT_SECONDS", 10)) * time.Second,
		SubmitTimeout:      time.Duration(getEnvInt("SUBMIT_TIMEOUT_SECONDS", 90)) * time.Second,
		JudgeURL:           strings.TrimRight(getEnv("JUDGE_URL", "http://localhost:2358"), "/"),
		JudgeTimeout:       time.Duration(getEnvInt("JUDGE_TIMEOUT_SECONDS", 30)) * time.Second,
		JudgePollInterval:  time.Duration(getEnvInt("JUDGE_POLL_INTERVAL_MS", 1000)) * time.Millisecond,
		JudgeMaxAttempts:   getEnvInt("JUDGE_MAX_ATTEMPTS", 10),
		StoreDriver:        strings.ToLower(getEnv("STORE_DRIVER", StoreDriverRedis)),
		RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379/0"),
		StateFile:          getEnv("STATE_FILE", "./data/assess_state.json"),
		DefaultLanguageID:  getEnvInt("DEFAULT_LANGUAGE_ID", 71),
		DefaultDuration:    time.Duration(getEnvInt("DEFAULT_DURATION_MINUTES", 60)) * time.Minute,
		ViolationLimit:     getEnvInt("VIOLATION_LIMIT", 5),
		RunRateLimit:       getEnvInt("RUN_RATE_LIMIT", 30),
		SessionIdleTimeout: time.Duration(getEnvInt("SESSION_IDLE_MINUTES", 30)) * time.Minute,
		AllowedOrigins:     parseOrigins(getEnv("ALLOWED_ORIGINS", "")),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// parseOrigins splits a comma-separated origins string into a trimmed slice.
// Returns nil (allow-all) if the input is empty.
func parseOrigins(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
