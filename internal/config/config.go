package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port                 string
	DatabaseURL          string
	OpenAIAPIKey         string
	ChatModel            string
	MediaBucket          string
	StorageWebhookSecret string
	AuthJWTSecret        string
	FFmpegPath           string
	FFprobePath          string
	WorkDir              string
	EmbeddingCacheTTL    time.Duration
	CatchupCacheTTL      time.Duration
	AnswerRetention      time.Duration
	StarterThrottle      time.Duration // 0 disables throttling of the convo-starter endpoint
	LogLevel             string
	LogFormat            string
	Environment          string
}

func Load() *Config {
	return &Config{
		Port:                 getEnvOrDefault("PORT", "8080"),
		DatabaseURL:          getEnvOrDefault("DATABASE_URL", "postgres://localhost/wafflebrain?sslmode=disable"),
		OpenAIAPIKey:         os.Getenv("OPENAI_API_KEY"),
		ChatModel:            getEnvOrDefault("CHAT_MODEL", "gpt-4o-mini"),
		MediaBucket:          os.Getenv("MEDIA_BUCKET"),
		StorageWebhookSecret: os.Getenv("STORAGE_WEBHOOK_SECRET"),
		AuthJWTSecret:        os.Getenv("AUTH_JWT_SECRET"),
		FFmpegPath:           getEnvOrDefault("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:          getEnvOrDefault("FFPROBE_PATH", "ffprobe"),
		WorkDir:              getEnvOrDefault("WORK_DIR", os.TempDir()),
		EmbeddingCacheTTL:    getDurationOrDefault("EMBEDDING_CACHE_TTL", time.Hour),
		CatchupCacheTTL:      getDurationOrDefault("CATCHUP_CACHE_TTL", 6*time.Hour),
		AnswerRetention:      getDurationOrDefault("ANSWER_RETENTION", 2*time.Minute),
		StarterThrottle:      getDurationOrDefault("STARTER_THROTTLE", 0),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "INFO"),
		LogFormat:            getEnvOrDefault("LOG_FORMAT", "text"),
		Environment:          getEnvOrDefault("ENVIRONMENT", "development"),
	}
}

func (c *Config) Validate() error {
	var problems []string

	if c.DatabaseURL == "" {
		problems = append(problems, "DATABASE_URL is required")
	}

	if c.OpenAIAPIKey == "" {
		problems = append(problems, "OPENAI_API_KEY is required")
	}

	if c.MediaBucket == "" {
		problems = append(problems, "MEDIA_BUCKET is required")
	}

	if c.StorageWebhookSecret == "" {
		problems = append(problems, "STORAGE_WEBHOOK_SECRET is required")
	}

	if c.AuthJWTSecret == "" {
		problems = append(problems, "AUTH_JWT_SECRET is required")
	}

	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	if !contains(validLogLevels, strings.ToUpper(c.LogLevel)) {
		problems = append(problems, "LOG_LEVEL must be one of: DEBUG, INFO, WARN, ERROR")
	}

	validLogFormats := []string{"text", "json"}
	if !contains(validLogFormats, strings.ToLower(c.LogFormat)) {
		problems = append(problems, "LOG_FORMAT must be one of: text, json")
	}

	if c.EmbeddingCacheTTL <= 0 {
		problems = append(problems, "EMBEDDING_CACHE_TTL must be positive")
	}

	if c.CatchupCacheTTL <= 0 {
		problems = append(problems, "CATCHUP_CACHE_TTL must be positive")
	}

	if c.AnswerRetention <= 0 {
		problems = append(problems, "ANSWER_RETENTION must be positive")
	}

	if c.StarterThrottle < 0 {
		problems = append(problems, "STARTER_THROTTLE must be zero or positive")
	}

	if len(problems) > 0 {
		return errors.New("invalid configuration: " + strings.Join(problems, "; "))
	}

	return nil
}

func (c *Config) IsProduction() bool {
	return strings.ToLower(c.Environment) == "production"
}

func (c *Config) IsDevelopment() bool {
	return strings.ToLower(c.Environment) == "development"
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getDurationOrDefault accepts either a Go duration string ("90s", "6h") or a
// bare number of seconds.
func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
