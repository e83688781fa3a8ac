package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Language model
	LLMProvider     string
	AnthropicAPIKey string
	OpenAIAPIKey    string
	GoogleApiKey    string
	LLMModel        string
	LLMMaxTokens    int
	LLMTimeout      time.Duration

	// Search
	SearchBackend        string
	GoogleSearchAPIKey   string
	GoogleSearchEngineID string
	SearchNumResults     int
	SearchLanguage       string
	SearchSafe           string
	SearchTimeout        time.Duration

	// Fetch
	FetchTimeout   time.Duration
	FetchUserAgent string
	FetchTopN      int

	// Server
	DatabaseURL string
	Port        string
	JWTSecret   string
	LogLevel    string

	// Source index
	EmbeddingModel string
	CollectionName string
	ChunkSize      int
	ChunkOverlap   int
}

// Load reads a .env file when present and then the process environment.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		LLMProvider:     strings.ToLower(getEnv("LLM_PROVIDER", "anthropic")),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		GoogleApiKey:    getEnv("GOOGLE_API_KEY", ""),
		LLMModel:        getEnv("LLM_MODEL", ""),
		LLMMaxTokens:    getEnvAsInt("LLM_MAX_TOKENS", 4096),
		LLMTimeout:      getEnvAsDuration("LLM_TIMEOUT", 120*time.Second),

		SearchBackend:        strings.ToLower(getEnv("SEARCH_BACKEND", "google")),
		GoogleSearchAPIKey:   getEnv("GOOGLE_SEARCH_API_KEY", ""),
		GoogleSearchEngineID: getEnv("GOOGLE_SEARCH_ENGINE_ID", ""),
		SearchNumResults:     getEnvAsInt("GOOGLE_SEARCH_NUM_RESULTS", 10),
		SearchLanguage:       getEnv("SEARCH_LANGUAGE", "en"),
		SearchSafe:           getEnv("SEARCH_SAFE", "off"),
		SearchTimeout:        getEnvAsDuration("SEARCH_TIMEOUT", 15*time.Second),

		FetchTimeout:   getEnvAsDuration("FETCH_TIMEOUT", 30*time.Second),
		FetchUserAgent: getEnv("FETCH_USER_AGENT", ""),
		FetchTopN:      getEnvAsInt("FETCH_TOP_N", 5),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		Port:        getEnv("PORT", "3000"),
		JWTSecret:   getEnv("JWT_SECRET", ""),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		EmbeddingModel: getEnv("EMBEDDING_MODEL", "gemini-embedding-001"),
		CollectionName: getEnv("COLLECTION_NAME", "research_sources"),
		ChunkSize:      getEnvAsInt("CHUNK_SIZE", 1000),
		ChunkOverlap:   getEnvAsInt("CHUNK_OVERLAP", 200),
	}
}

// Validate checks the settings every entry point needs.
func (c *Config) Validate() error {
	switch c.LLMProvider {
	case "anthropic":
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required for provider %q", c.LLMProvider)
		}
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for provider %q", c.LLMProvider)
		}
	case "google":
		if c.GoogleApiKey == "" {
			return fmt.Errorf("GOOGLE_API_KEY is required for provider %q", c.LLMProvider)
		}
	default:
		return fmt.Errorf("unknown LLM_PROVIDER %q (want anthropic, openai or google)", c.LLMProvider)
	}

	switch c.SearchBackend {
	case "google":
		if c.GoogleSearchAPIKey == "" || c.GoogleSearchEngineID == "" {
			return fmt.Errorf("GOOGLE_SEARCH_API_KEY and GOOGLE_SEARCH_ENGINE_ID are required for the google search backend")
		}
	case "arxiv":
	default:
		return fmt.Errorf("unknown SEARCH_BACKEND %q (want google or arxiv)", c.SearchBackend)
	}

	if c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("CHUNK_OVERLAP (%d) must be smaller than CHUNK_SIZE (%d)", c.ChunkOverlap, c.ChunkSize)
	}
	return nil
}

// LLMAPIKey is the key of the configured provider.
func (c *Config) LLMAPIKey() string {
	switch c.LLMProvider {
	case "anthropic":
		return c.AnthropicAPIKey
	case "openai":
		return c.OpenAIAPIKey
	case "google":
		return c.GoogleApiKey
	}
	return ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration accepts Go durations ("20s") or a bare number of seconds.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(valueStr); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
