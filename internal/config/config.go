// Package config loads kernel configuration from the environment.
//
// API keys double as capability signals: a provider adapter is only
// constructed when its key is present.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all recognized kernel options.
type Config struct {
	Port string

	// Provider secrets. Presence enables the adapter.
	AnthropicAPIKey string
	OpenAIAPIKey    string
	GoogleAPIKey    string
	XAIAPIKey       string
	LocalBaseURL    string

	// Persistent state
	StateDir     string // registry snapshots live under <StateDir>/agents/
	MemoryDBPath string // sqlite database for the memory substrate
	ProjectsDir  string // root under which generated projects are written
	RedisURL     string // optional cache backend

	// Budget caps in USD. Zero means unlimited.
	DailyCapUSD   float64
	SessionCapUSD float64

	// Pacing overrides for the live generation stream.
	Pacing PacingConfig
}

// PacingConfig carries the authored delays between emitted events.
// Zero values fall back to the engine defaults.
type PacingConfig struct {
	Announce      time.Duration
	Section       time.Duration
	LineShort     time.Duration
	LineMedium    time.Duration
	LineLong      time.Duration
	LineVeryLong  time.Duration
	LineImportant time.Duration
}

// Load reads configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		GoogleAPIKey:    os.Getenv("GOOGLE_API_KEY"),
		XAIAPIKey:       os.Getenv("XAI_API_KEY"),
		LocalBaseURL:    os.Getenv("OLLAMA_BASE_URL"),
		StateDir:        getEnv("KERNEL_STATE_DIR", "kernel_state"),
		MemoryDBPath:    getEnv("KERNEL_MEMORY_DB", "kernel_state/memory/kernel_memory.db"),
		ProjectsDir:     getEnv("KERNEL_PROJECTS_DIR", "projects"),
		RedisURL:        os.Getenv("REDIS_URL"),
		DailyCapUSD:     getEnvFloat("KERNEL_DAILY_CAP_USD", 0),
		SessionCapUSD:   getEnvFloat("KERNEL_SESSION_CAP_USD", 0),
		Pacing: PacingConfig{
			Announce:      getEnvMillis("KERNEL_DELAY_ANNOUNCE_MS"),
			Section:       getEnvMillis("KERNEL_DELAY_SECTION_MS"),
			LineShort:     getEnvMillis("KERNEL_DELAY_LINE_SHORT_MS"),
			LineMedium:    getEnvMillis("KERNEL_DELAY_LINE_MEDIUM_MS"),
			LineLong:      getEnvMillis("KERNEL_DELAY_LINE_LONG_MS"),
			LineVeryLong:  getEnvMillis("KERNEL_DELAY_LINE_VERY_LONG_MS"),
			LineImportant: getEnvMillis("KERNEL_DELAY_LINE_IMPORTANT_MS"),
		},
	}
	return cfg
}

// HasCloudProviderKey reports whether any hosted provider is configured.
func (c *Config) HasCloudProviderKey() bool {
	return c.AnthropicAPIKey != "" || c.OpenAIAPIKey != "" || c.GoogleAPIKey != "" || c.XAIAPIKey != ""
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	if parsed, err := strconv.ParseFloat(val, 64); err == nil {
		return parsed
	}
	return fallback
}

func getEnvMillis(key string) time.Duration {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return 0
	}
	if parsed, err := strconv.Atoi(val); err == nil && parsed >= 0 {
		return time.Duration(parsed) * time.Millisecond
	}
	return 0
}
