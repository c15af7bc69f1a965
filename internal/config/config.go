package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port        int
	LogLevel    string
	DatabaseURL string
	NatsURL     string
	NatsToken   string
	APIToken    string

	LineChannelSecret      string
	LineChannelAccessToken string

	// AllowedTalkRooms is the raw comma-separated allow-list. It is re-read
	// per request by the webhook handler; this copy is for startup logging.
	AllowedTalkRooms string

	LLMProvider     string
	AnthropicAPIKey string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	FastModel       string
	DeepModel       string
	EmbeddingModel  string
	EmbeddingDims   int

	FastPathTimeout   time.Duration
	EnrichConcurrency int
	EnrichTimeout     time.Duration
	ChunkIdleGap      time.Duration
	ChunkMaxMessages  int
	SplitUnit         string
	DateMarkers       bool

	SlackBotToken string
	SlackChannel  string
}

func Load() Config {
	return Config{
		Port:        envInt("MNEMO_PORT", 8760),
		LogLevel:    envStr("LOG_LEVEL", "info"),
		DatabaseURL: envStr("DATABASE_URL", ""),
		NatsURL:     envStr("NATS_URL", ""),
		NatsToken:   envStr("NATS_TOKEN", ""),
		APIToken:    envStr("MNEMO_API_TOKEN", ""),

		LineChannelSecret:      envStr("LINE_CHANNEL_SECRET", ""),
		LineChannelAccessToken: envStr("LINE_CHANNEL_ACCESS_TOKEN", ""),
		AllowedTalkRooms:       envStr("ALLOWED_TALK_ROOMS", ""),

		LLMProvider:     strings.ToLower(envStr("LLM_PROVIDER", "anthropic")),
		AnthropicAPIKey: envStr("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    envStr("OPENAI_API_KEY", ""),
		OpenAIBaseURL:   envStr("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		FastModel:       envStr("FAST_MODEL", "claude-3-5-haiku-latest"),
		DeepModel:       envStr("DEEP_MODEL", "claude-sonnet-4-20250514"),
		EmbeddingModel:  envStr("EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingDims:   envInt("EMBEDDING_DIMS", 1536),

		FastPathTimeout:   envDuration("FAST_PATH_TIMEOUT", 4*time.Second),
		EnrichConcurrency: envInt("ENRICH_CONCURRENCY", 8),
		EnrichTimeout:     envDuration("ENRICH_TIMEOUT", 2*time.Minute),
		ChunkIdleGap:      envDuration("CHUNK_IDLE_GAP", 30*time.Minute),
		ChunkMaxMessages:  envInt("CHUNK_MAX_MESSAGES", 20),
		SplitUnit:         strings.ToLower(envStr("SPLIT_UNIT", "runes")),
		DateMarkers:       envBool("DATE_MARKERS", false),

		SlackBotToken: envStr("SLACK_BOT_TOKEN", ""),
		SlackChannel:  envStr("SLACK_CHANNEL", ""),
	}
}

// AllowedTalkRoomsFromEnv returns the current allow-list setting without
// caching, so operators can change it without a restart.
func AllowedTalkRoomsFromEnv() string {
	return os.Getenv("ALLOWED_TALK_ROOMS")
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// envDuration accepts Go durations ("4s") or a bare number of milliseconds.
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
