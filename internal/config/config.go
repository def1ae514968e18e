package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	LogLevel      string
	PublicBaseURL string

	// Conversation engine
	HistoryWindow       int
	MaxStoredTurns      int
	CompactBudgetChars  int
	GenerationTimeout   time.Duration
	GenerationMaxTokens int
	MemorySummaryEvery  int
	SummarizerWorkers   int
	UseMemoryQueue      bool
	SummaryQueueURL     string
	DefaultTimezone     string
	DisclaimerLevel     string

	// Tier budgets (per day)
	FreeDailyMessages     int
	FreeLLMCallsPerDay    int
	PremiumDailyMessages  int
	PremiumLLMCallsPerDay int

	// Stores
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool
	DatabaseURL   string

	// Generator providers
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
	BedrockModelID      string
	GeminiAPIKey        string
	GeminiModelID       string

	// HTTP surface
	AuthJWTSecret      string
	RateLimitPerSecond float64
	RateLimitBurst     int
	CORSAllowedOrigins []string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),

		HistoryWindow:       getEnvAsInt("COACH_HISTORY_WINDOW", 3),
		MaxStoredTurns:      getEnvAsInt("COACH_MAX_STORED_TURNS", 50),
		CompactBudgetChars:  getEnvAsInt("COACH_COMPACT_BUDGET_CHARS", 2000),
		GenerationTimeout:   getEnvAsDuration("COACH_GENERATION_TIMEOUT", 12*time.Second),
		GenerationMaxTokens: getEnvAsInt("COACH_GENERATION_MAX_TOKENS", 700),
		MemorySummaryEvery:  getEnvAsInt("COACH_MEMORY_SUMMARY_EVERY", 10),
		SummarizerWorkers:   getEnvAsInt("COACH_SUMMARIZER_WORKERS", 1),
		UseMemoryQueue:      getEnvAsBool("USE_MEMORY_QUEUE", true),
		SummaryQueueURL:     getEnv("SUMMARY_QUEUE_URL", ""),
		DefaultTimezone:     getEnv("COACH_DEFAULT_TZ", "Europe/Paris"),
		DisclaimerLevel:     getEnv("COACH_DISCLAIMER_LEVEL", "medium"),

		FreeDailyMessages:     getEnvAsInt("TIER_FREE_DAILY_MESSAGES", 10),
		FreeLLMCallsPerDay:    getEnvAsInt("TIER_FREE_LLM_CALLS_PER_DAY", 1),
		PremiumDailyMessages:  getEnvAsInt("TIER_PREMIUM_DAILY_MESSAGES", 100),
		PremiumLLMCallsPerDay: getEnvAsInt("TIER_PREMIUM_LLM_CALLS_PER_DAY", 30),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),
		DatabaseURL:   getEnv("DATABASE_URL", ""),

		AWSRegion:           getEnv("AWS_REGION", "eu-west-3"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		BedrockModelID:      getEnv("BEDROCK_MODEL_ID", ""),
		GeminiAPIKey:        getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:       getEnv("GEMINI_MODEL_ID", "gemini-2.5-flash"),

		AuthJWTSecret:      getEnv("AUTH_JWT_SECRET", ""),
		RateLimitPerSecond: getEnvAsFloat("RATE_LIMIT_PER_SECOND", 5),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 10),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsFloat retrieves an environment variable as a float or returns a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated environment variable into a slice,
// dropping empty entries.
func getEnvAsList(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
