package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL string
	RedisURL    string
	ServerPort  string

	// Hex-encoded Ed25519 keys. The public key verifies API tokens; the
	// private key is only needed when the admin API issues tokens.
	TokenPublicKey  string
	TokenPrivateKey string
	AdminSecret     string

	ModelID         string
	EmbedServiceURL string
	MaxTextChars    int
	MaxTokens       int

	L1CacheSize      int
	L2CacheTTL       time.Duration
	CacheFillQueue   int
	KeyCacheTTL      time.Duration
	KeyCacheNegTTL   time.Duration
	KeyCacheSize     int
	UsageFlushEvery  time.Duration
	UsageBufferLimit int
}

func Load() (*Config, error) {
	godotenv.Load()

	cfg := &Config{
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		RedisURL:         getEnv("REDIS_URL", "redis://localhost:6379"),
		ServerPort:       getEnv("SERVER_PORT", "8080"),
		TokenPublicKey:   getEnv("TOKEN_PUBLIC_KEY", ""),
		TokenPrivateKey:  getEnv("TOKEN_PRIVATE_KEY", ""),
		AdminSecret:      getEnv("ADMIN_SECRET", ""),
		ModelID:          getEnv("MODEL_ID", "all-MiniLM-L6-v2"),
		EmbedServiceURL:  getEnv("EMBED_SERVICE_URL", "http://localhost:5000"),
		MaxTextChars:     getEnvInt("MAX_TEXT_CHARS", 2000),
		MaxTokens:        getEnvInt("MAX_TOKENS", 512),
		L1CacheSize:      getEnvInt("L1_CACHE_SIZE", 10000),
		L2CacheTTL:       getEnvDuration("L2_CACHE_TTL", 7*24*time.Hour),
		CacheFillQueue:   getEnvInt("CACHE_FILL_QUEUE", 1024),
		KeyCacheTTL:      getEnvDuration("KEY_CACHE_TTL", 5*time.Minute),
		KeyCacheNegTTL:   getEnvDuration("KEY_CACHE_NEG_TTL", 30*time.Second),
		KeyCacheSize:     getEnvInt("KEY_CACHE_SIZE", 10000),
		UsageFlushEvery:  getEnvDuration("USAGE_FLUSH_INTERVAL", 5*time.Second),
		UsageBufferLimit: getEnvInt("USAGE_BUFFER_LIMIT", 10000),
	}

	if cfg.TokenPublicKey == "" {
		return nil, fmt.Errorf("TOKEN_PUBLIC_KEY is required")
	}

	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultVal
}
