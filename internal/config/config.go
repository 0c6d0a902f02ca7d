// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Fetch
	FetchTimeout      time.Duration
	FetchMaxSize      int64
	FaviconTimeout    time.Duration
	MaxEntriesPerFeed int

	// Refresh
	RefreshConcurrency   int
	RefreshBatchDelay    time.Duration
	RefreshStaleAfter    time.Duration
	RefreshStalePageSize int
	RefreshInterval      time.Duration
	RefreshErrorSample   int

	// Job endpoints
	AdminAPIToken string
	CronSecret    string

	// Rate Limit
	RateLimitFetch int

	// Logging
	LogLevel         string
	LogRetentionDays int

	// Server
	ServerPort string
}

// LoadDotEnv は指定パスの.envファイルを読み込む。ファイルが存在しない場合は何もしない。
// 既に設定されている環境変数は上書きしない。
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 10*time.Second)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 5242880)
	cfg.FaviconTimeout = getEnvDuration("FAVICON_TIMEOUT", 3*time.Second)
	cfg.MaxEntriesPerFeed = getEnvInt("MAX_ENTRIES_PER_FEED", 50)
	cfg.RefreshConcurrency = getEnvInt("REFRESH_CONCURRENCY", 5)
	cfg.RefreshBatchDelay = getEnvDuration("REFRESH_BATCH_DELAY", time.Second)
	cfg.RefreshStaleAfter = getEnvDuration("REFRESH_STALE_AFTER", 3*time.Hour)
	cfg.RefreshStalePageSize = getEnvInt("REFRESH_STALE_PAGE_SIZE", 20)
	cfg.RefreshInterval = getEnvDuration("REFRESH_INTERVAL", 15*time.Minute)
	cfg.RefreshErrorSample = getEnvInt("REFRESH_ERROR_SAMPLE", 10)
	cfg.AdminAPIToken = os.Getenv("ADMIN_API_TOKEN")
	cfg.CronSecret = os.Getenv("CRON_SECRET")
	cfg.RateLimitFetch = getEnvInt("RATE_LIMIT_FETCH", 10)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.LogRetentionDays = getEnvInt("LOG_RETENTION_DAYS", 30)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")

	// 間隔は正の値のみ有効
	if cfg.RefreshInterval == 0 {
		cfg.RefreshInterval = 15 * time.Minute
	}
	if cfg.FetchTimeout == 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	if cfg.FaviconTimeout == 0 {
		cfg.FaviconTimeout = 3 * time.Second
	}

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// getEnvInt は正の整数のみ受け付け、それ以外は既定値を返す。
func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil || i <= 0 {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil || i <= 0 {
		return defaultVal
	}
	return i
}

// getEnvDuration は0以上のdurationを受け付け、それ以外は既定値を返す。
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return defaultVal
	}
	return d
}
