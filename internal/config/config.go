package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv             string
	Port               string
	LogLevel           string
	LogFormat          string
	DatabaseURL        string
	RedisURL           string
	TwitchClientID     string
	TwitchClientSecret string
	NotifierURL        string
	PubSubURL          string
	OAuthTokenURL      string
	TokenEncryptionKey string
}

func Load() (*Config, error) {
	// .env is a development convenience; missing file is fine.
	_ = godotenv.Load()

	cfg := &Config{
		AppEnv:             getEnv("APP_ENV", "development"),
		Port:               getEnv("PORT", "8080"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", "text"),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		RedisURL:           getEnv("REDIS_URL", ""),
		TwitchClientID:     getEnv("TWITCH_CLIENT_ID", ""),
		TwitchClientSecret: getEnv("TWITCH_CLIENT_SECRET", ""),
		NotifierURL:        getEnv("NOTIFIER_URL", ""),
		PubSubURL:          getEnv("PUBSUB_URL", "wss://pubsub-edge.twitch.tv"),
		OAuthTokenURL:      getEnv("OAUTH_TOKEN_URL", "https://id.twitch.tv/oauth2/token"),
		TokenEncryptionKey: getEnv("TOKEN_ENCRYPTION_KEY", ""),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}
	if cfg.TwitchClientID == "" {
		return nil, fmt.Errorf("TWITCH_CLIENT_ID is required")
	}
	if cfg.TwitchClientSecret == "" {
		return nil, fmt.Errorf("TWITCH_CLIENT_SECRET is required")
	}
	if cfg.NotifierURL == "" {
		return nil, fmt.Errorf("NOTIFIER_URL is required")
	}
	if !strings.HasPrefix(cfg.PubSubURL, "ws://") && !strings.HasPrefix(cfg.PubSubURL, "wss://") {
		return nil, fmt.Errorf("PUBSUB_URL must be a ws:// or wss:// URL")
	}
	if cfg.AppEnv == "production" && cfg.TokenEncryptionKey == "" {
		return nil, fmt.Errorf("TOKEN_ENCRYPTION_KEY is required in production")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
