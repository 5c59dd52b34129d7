package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Port        string
	Environment string

	// LLM provider (OpenAI-compatible)
	LLMBaseURL     string
	LLMAPIKey      string
	LLMModel       string
	LLMTimeout     time.Duration
	LLMRateLimit   float64 // requests per second
	LLMRateBurst   int

	// Collaborator services
	SocialAPIURL    string
	WebSearchAPIURL string
	WebSearchAPIKey string
	MemoryURL       string
	MemoryTimeout   time.Duration

	// Optional infrastructure
	RedisURL    string
	MongoURI    string
	SQLitePath  string
	RoutingFile string // optional YAML override for the routing table

	// Conversation lifecycle
	ConversationMaxAge  time.Duration
	ConversationMaxMsgs int
	CleanupInterval     time.Duration
	TaskRetention       time.Duration

	// Bus
	MessageTimeout  time.Duration
	EventBufferSize int

	// Heuristic thresholds. Calibration of these is empirical — the
	// defaults mirror observed production behavior, not a derivation.
	EarlyExitMinItems     int
	EarlyExitMinRelevance float64
	ViralThreshold        float64
	PeakHourRatio         float64
	HandleSaveThreshold   float64

	// Personal-data agent cache
	UserCacheTTL time.Duration
}

// Load loads configuration from environment variables with defaults
func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "3001"),
		Environment: strings.ToLower(getEnv("ENVIRONMENT", "development")),

		LLMBaseURL:   getEnv("LLM_BASE_URL", "https://api.openai.com/v1"),
		LLMAPIKey:    getEnv("LLM_API_KEY", ""),
		LLMModel:     getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMTimeout:   getDurationEnv("LLM_TIMEOUT", 30*time.Second),
		LLMRateLimit: getFloatEnv("LLM_RATE_LIMIT", 5),
		LLMRateBurst: getIntEnv("LLM_RATE_BURST", 10),

		SocialAPIURL:    getEnv("SOCIAL_API_URL", "http://localhost:8787"),
		WebSearchAPIURL: getEnv("WEB_SEARCH_API_URL", "https://api.perplexity.ai"),
		WebSearchAPIKey: getEnv("WEB_SEARCH_API_KEY", ""),
		MemoryURL:       getEnv("MEMORY_URL", "http://localhost:5859"),
		MemoryTimeout:   getDurationEnv("MEMORY_TIMEOUT", 10*time.Second),

		RedisURL:    getEnv("REDIS_URL", ""),
		MongoURI:    getEnv("MONGODB_URI", ""),
		SQLitePath:  getEnv("SQLITE_PATH", "pulsewatch.db"),
		RoutingFile: getEnv("ROUTING_FILE", ""),

		ConversationMaxAge:  getDurationEnv("CONVERSATION_MAX_AGE", time.Hour),
		ConversationMaxMsgs: getIntEnv("CONVERSATION_MAX_MESSAGES", 50),
		CleanupInterval:     getDurationEnv("CLEANUP_INTERVAL", 5*time.Minute),
		TaskRetention:       getDurationEnv("TASK_RETENTION", time.Hour),

		MessageTimeout:  getDurationEnv("MESSAGE_TIMEOUT", 30*time.Second),
		EventBufferSize: getIntEnv("EVENT_BUFFER_SIZE", 64),

		EarlyExitMinItems:     getIntEnv("EARLY_EXIT_MIN_ITEMS", 15),
		EarlyExitMinRelevance: getFloatEnv("EARLY_EXIT_MIN_RELEVANCE", 7),
		ViralThreshold:        getFloatEnv("VIRAL_THRESHOLD", 0.5),
		PeakHourRatio:         getFloatEnv("PEAK_HOUR_RATIO", 0.7),
		HandleSaveThreshold:   getFloatEnv("HANDLE_SAVE_THRESHOLD", 0.5),

		UserCacheTTL: getDurationEnv("USER_CACHE_TTL", 5*time.Minute),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}
