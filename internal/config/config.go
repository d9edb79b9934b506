package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Env         string
	HTTPAddr    string
	DatabaseURL string
	BaseURL     string

	JWTSecret     string
	AdminLogin    string
	AdminPassword string
	AdminPassHash string

	Wata     WataConfig
	Telegram TelegramConfig
	S3       S3Config
	Worker   WorkerConfig
	Logging  LoggingConfig
}

type WataConfig struct {
	APIKey        string
	PaymentURL    string
	AuthHeader    string
	AuthScheme    string
	WebhookSecret string
}

type TelegramConfig struct {
	BotToken string
	ChatIDs  []int64
}

type S3Config struct {
	Endpoint       string
	PublicEndpoint string
	Bucket         string
	AccessKey      string
	SecretKey      string
	Region         string
	UseSSL         bool
}

type WorkerConfig struct {
	Interval time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
	File   string
}

func Load() (*Config, error) {
	cfg := &Config{
		Env:           getenv("APP_ENV", "dev"),
		HTTPAddr:      getenv("HTTP_ADDR", ":8080"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		BaseURL:       os.Getenv("BASE_URL"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		AdminLogin:    getenv("ADMIN_LOGIN", "admin"),
		AdminPassword: os.Getenv("ADMIN_PASSWORD"),
		AdminPassHash: os.Getenv("ADMIN_PASSWORD_HASH"),
		Wata: WataConfig{
			APIKey:        os.Getenv("WATA_API_KEY"),
			PaymentURL:    os.Getenv("WATA_PAYMENT_URL"),
			AuthHeader:    os.Getenv("WATA_AUTH_HEADER"),
			AuthScheme:    os.Getenv("WATA_AUTH_SCHEME"),
			WebhookSecret: os.Getenv("WATA_WEBHOOK_SECRET"),
		},
		Telegram: TelegramConfig{
			BotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
			ChatIDs:  parseIDList(getenv("TELEGRAM_CHAT_IDS", os.Getenv("TELEGRAM_CHAT_ID"))),
		},
		S3: S3Config{
			Endpoint:       os.Getenv("S3_ENDPOINT"),
			PublicEndpoint: os.Getenv("S3_PUBLIC_ENDPOINT"),
			Bucket:         os.Getenv("S3_BUCKET"),
			AccessKey:      os.Getenv("S3_ACCESS_KEY"),
			SecretKey:      os.Getenv("S3_SECRET_KEY"),
			Region:         getenv("S3_REGION", "us-east-1"),
			UseSSL:         getenvBool("S3_USE_SSL", true),
		},
		Worker: WorkerConfig{
			Interval: getenvDuration("WORKER_INTERVAL", time.Minute),
		},
		Logging: LoggingConfig{
			Level:  getenv("LOG_LEVEL", "info"),
			Format: getenv("LOG_FORMAT", "text"),
			File:   os.Getenv("LOG_FILE"),
		},
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.AdminPassword == "" && cfg.AdminPassHash == "" {
		return nil, fmt.Errorf("ADMIN_PASSWORD or ADMIN_PASSWORD_HASH is required")
	}

	return cfg, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := time.ParseDuration(v)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func parseIDList(val string) []int64 {
	out := make([]int64, 0)
	for _, part := range strings.Split(val, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out
}
