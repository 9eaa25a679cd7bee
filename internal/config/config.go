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
	AppEnv string

	HTTPAddr      string
	DatabaseURL   string
	StoreMaxConns int

	JWTSecret string
	JWTIssuer string

	// RabbitMQ
	QueueURL           string
	QueueExchange      string
	QueueSubjectPrefix string
	QueuePullBatch     int
	QueueAckWait       time.Duration
	QueueMaxDeliver    int
	QueueWorkers       int

	// Redis (delayed republish)
	RedisURL string

	// Retry policy
	RetryMaxAttempts   int
	RetryBaseDelay     time.Duration
	RetryMaxDoublings  int
	SweeperInterval    time.Duration
	AdapterHTTPTimeout time.Duration

	// Platform API endpoints, overridable for tests and proxies.
	TelegramAPIBase string
	VKAPIBase       string
	MaxAPIBase      string

	// Rate limiting
	RLEnabled bool
	RLLimit   int
	RLWindow  time.Duration

	LogLevel  string
	LogFormat string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.AppEnv = getEnv("APP_ENV", "dev")
	cfg.HTTPAddr = getEnv("HTTP_ADDR", ":8080")
	cfg.DatabaseURL = getEnv("DATABASE_URL", "")
	cfg.StoreMaxConns = getIntEnv("STORE_MAX_CONNECTIONS", 10)

	cfg.JWTSecret = getEnv("JWT_SECRET", "")
	cfg.JWTIssuer = getEnv("JWT_ISSUER", "")

	cfg.QueueURL = getEnv("QUEUE_URL", "")
	cfg.QueueExchange = getEnv("QUEUE_EXCHANGE", "messaging.outbound")
	cfg.QueueSubjectPrefix = getEnv("QUEUE_SUBJECT_PREFIX", "messaging.outbound")
	cfg.QueuePullBatch = getIntEnv("QUEUE_PULL_BATCH", 32)
	cfg.QueueAckWait = getDuration("QUEUE_ACK_WAIT", 30*time.Second)
	cfg.QueueMaxDeliver = getIntEnv("QUEUE_MAX_DELIVER", 10)
	cfg.QueueWorkers = getIntEnv("QUEUE_WORKERS", 4)

	cfg.RedisURL = getEnv("REDIS_URL", "redis://localhost:6379/0")

	cfg.RetryMaxAttempts = getIntEnv("RETRY_MAX_ATTEMPTS", 3)
	cfg.RetryBaseDelay = getDuration("RETRY_BASE_DELAY", 60*time.Second)
	cfg.RetryMaxDoublings = getIntEnv("RETRY_MAX_BACKOFF_DOUBLINGS", 4)
	cfg.SweeperInterval = getDuration("SWEEPER_INTERVAL", 60*time.Second)
	cfg.AdapterHTTPTimeout = getDuration("ADAPTER_HTTP_TIMEOUT", 30*time.Second)

	cfg.TelegramAPIBase = getEnv("TELEGRAM_API_BASE", "https://api.telegram.org")
	cfg.VKAPIBase = getEnv("VK_API_BASE", "https://api.vk.com")
	cfg.MaxAPIBase = getEnv("MAX_API_BASE", "https://botapi.max.ru")

	cfg.RLEnabled = getEnv("RL_ENABLED", "true") == "true"
	cfg.RLLimit = getIntEnv("RL_IP_LIMIT", 100)
	cfg.RLWindow = getDuration("RL_IP_WINDOW", 1*time.Minute)

	cfg.LogLevel = getEnv("LOG_LEVEL", "info")
	cfg.LogFormat = getEnv("LOG_FORMAT", "console")

	cfg.HTTPReadTimeout = getDuration("HTTP_READ_TIMEOUT", 10*time.Second)
	cfg.HTTPWriteTimeout = getDuration("HTTP_WRITE_TIMEOUT", 20*time.Second)
	cfg.HTTPIdleTimeout = getDuration("HTTP_IDLE_TIMEOUT", 60*time.Second)

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("missing DATABASE_URL")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("missing JWT_SECRET")
	}
	if cfg.AppEnv != "dev" && cfg.QueueURL == "" {
		return nil, fmt.Errorf("missing QUEUE_URL (required when APP_ENV != dev)")
	}

	return cfg, nil
}

func getEnv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func getIntEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}
