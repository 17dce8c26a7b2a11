package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// OAuth2 identity provider
	OAuthClientID     string
	OAuthClientSecret string
	OAuthRedirectURI  string
	OAuthAuthURL      string
	OAuthTokenURL     string
	OAuthUserInfoURL  string

	// Database (empty means in-memory store)
	DatabaseURL string
	RedisURL    string

	// Web Server
	WebBind      string
	WebUIBaseURL string

	// Session
	JWTSecret string

	// Announcements and moderation (optional)
	DiscordToken     string
	DiscordChannelID string
	OpenAIAPIKey     string

	// Economy
	CatalogPath           string
	StartingGrant         int64
	DefaultMetaGoal       int64
	DiscreteCostPerMinute int64
	DiscreteInterval      time.Duration
	PresenceTimeout       time.Duration
	PlatformAccountID     string

	// Rate limiting
	RateLimitPerSecond float64
	RateLimitBurst     int

	// Logging
	LogLevel  string
	LogFormat string
}

func Load() (*Config, error) {
	// Load environment variables from .env if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{
		OAuthClientID:     os.Getenv("OAUTH_CLIENT_ID"),
		OAuthClientSecret: os.Getenv("OAUTH_CLIENT_SECRET"),
		OAuthRedirectURI:  getEnvDefault("OAUTH_REDIRECT_URI", "http://localhost:3000/api/auth/callback"),
		OAuthAuthURL:      os.Getenv("OAUTH_AUTH_URL"),
		OAuthTokenURL:     os.Getenv("OAUTH_TOKEN_URL"),
		OAuthUserInfoURL:  os.Getenv("OAUTH_USERINFO_URL"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisURL:          os.Getenv("REDIS_URL"),
		WebBind:           getEnvDefault("WEB_BIND", "0.0.0.0:3000"),
		JWTSecret:         getEnvDefault("JWT_SECRET", "dev-only-change-me"),
		DiscordToken:      os.Getenv("DISCORD_TOKEN"),
		DiscordChannelID:  os.Getenv("DISCORD_CHANNEL_ID"),
		OpenAIAPIKey:      os.Getenv("OPENAI_API_KEY"),
		CatalogPath:       os.Getenv("CATALOG_PATH"),
		PlatformAccountID: getEnvDefault("PLATFORM_ACCOUNT_ID", "platform"),
		LogLevel:          getEnvDefault("LOG_LEVEL", "info"),
		LogFormat:         getEnvDefault("LOG_FORMAT", "text"),
	}

	cfg.WebUIBaseURL = extractBaseURL(cfg.OAuthRedirectURI)

	var err error
	if cfg.StartingGrant, err = getEnvInt("STARTING_GRANT", 1000); err != nil {
		return nil, err
	}
	if cfg.DefaultMetaGoal, err = getEnvInt("DEFAULT_META_GOAL", 5000); err != nil {
		return nil, err
	}
	if cfg.DiscreteCostPerMinute, err = getEnvInt("DISCRETE_COST_PER_MINUTE", 10); err != nil {
		return nil, err
	}
	if cfg.DiscreteInterval, err = getEnvDuration("DISCRETE_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.PresenceTimeout, err = getEnvDuration("PRESENCE_TIMEOUT", 45*time.Second); err != nil {
		return nil, err
	}
	burst, err := getEnvInt("RATE_LIMIT_BURST", 20)
	if err != nil {
		return nil, err
	}
	cfg.RateLimitBurst = int(burst)
	rps := getEnvDefault("RATE_LIMIT_PER_SECOND", "10")
	if cfg.RateLimitPerSecond, err = strconv.ParseFloat(rps, 64); err != nil {
		return nil, fmt.Errorf("RATE_LIMIT_PER_SECOND must be a number: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the invariants the economy depends on.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.OAuthClientID != "" {
		if c.OAuthClientSecret == "" {
			return fmt.Errorf("OAUTH_CLIENT_SECRET is required")
		}
		if c.OAuthAuthURL == "" || c.OAuthTokenURL == "" || c.OAuthUserInfoURL == "" {
			return fmt.Errorf("OAUTH_AUTH_URL, OAUTH_TOKEN_URL and OAUTH_USERINFO_URL are required")
		}
	}
	if c.StartingGrant < 0 {
		return fmt.Errorf("STARTING_GRANT must not be negative")
	}
	if c.DefaultMetaGoal <= 0 {
		return fmt.Errorf("DEFAULT_META_GOAL must be positive")
	}
	if c.DiscreteCostPerMinute <= 0 {
		return fmt.Errorf("DISCRETE_COST_PER_MINUTE must be positive")
	}
	if c.DiscreteInterval <= 0 {
		return fmt.Errorf("DISCRETE_INTERVAL must be positive")
	}
	if c.PresenceTimeout <= 0 {
		return fmt.Errorf("PRESENCE_TIMEOUT must be positive")
	}
	if c.PlatformAccountID == "" {
		return fmt.Errorf("PLATFORM_ACCOUNT_ID is required")
	}
	return nil
}

func getEnvDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int64) (int64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration: %w", key, err)
	}
	return d, nil
}

func extractBaseURL(redirectURI string) string {
	// e.g., "http://localhost:3000/api/auth/callback" -> "http://localhost:3000"
	parsed, err := url.Parse(redirectURI)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "http://localhost:3000"
	}

	return fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host)
}
