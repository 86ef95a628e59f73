package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config aggregates every runtime setting for the service.
type Config struct {
	Server ServerConfig
	AI     AIConfig
	Feed   FeedConfig
	Store  StoreConfig
	Auth   AuthConfig
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	feed, err := loadFeedConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server: server,
		AI: AIConfig{
			GeminiAPIKey:    strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
			AnthropicAPIKey: strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")),
		},
		Feed: feed,
		Store: StoreConfig{
			Path: getEnvOrDefault("RAILSBOT_DB_PATH", "data/railsbot.db"),
		},
		Auth: AuthConfig{
			Password: os.Getenv("AUTH_PASSWORD"),
		},
	}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// Allow passing ":8080" or "127.0.0.1:8080" directly.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// AIConfig holds the backend credentials; each provider is only added to the
// fallback chain when its key is present.
type AIConfig struct {
	GeminiAPIKey    string
	AnthropicAPIKey string
}

// Enabled reports whether at least one backend can be used.
func (c AIConfig) Enabled() bool {
	return c.GeminiAPIKey != "" || c.AnthropicAPIKey != ""
}

// FeedConfig describes the dynamic prompt context sources.
type FeedConfig struct {
	BlueskyURL string
	AtomURL    string
	TTL        time.Duration
}

func loadFeedConfig() (FeedConfig, error) {
	ttl, err := parseOptionalDurationEnv("FEED_CACHE_TTL")
	if err != nil {
		return FeedConfig{}, err
	}

	cfg := FeedConfig{
		BlueskyURL: strings.TrimSpace(os.Getenv("FEED_BLUESKY_URL")),
		AtomURL:    strings.TrimSpace(os.Getenv("FEED_ATOM_URL")),
	}
	if ttl != nil {
		cfg.TTL = *ttl
	}
	return cfg, nil
}

// StoreConfig locates the SQLite database.
type StoreConfig struct {
	Path string
}

// AuthConfig carries the optional basic auth password; empty disables auth.
type AuthConfig struct {
	Password string
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseOptionalDurationEnv(key string) (*time.Duration, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := time.ParseDuration(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
