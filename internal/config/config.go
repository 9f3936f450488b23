package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// KeyValidationMode は公開鍵の検証レベルを表す。
type KeyValidationMode string

const (
	// KeyValidationShape は形式（G始まり56文字）のみを検証する。
	KeyValidationShape KeyValidationMode = "shape"
	// KeyValidationChecksum は形式に加えてStrKeyのバージョンバイトとCRC16チェックサムを検証する。
	KeyValidationChecksum KeyValidationMode = "checksum"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Auth
	JWTSecret string

	// Account linking
	LinkLimit              int
	AutoPrimaryOnFirstLink bool
	KeyValidation          KeyValidationMode

	// Horizon（空の場合はネットワーク照会を行わない）
	HorizonURL     string
	HorizonTimeout time.Duration

	// Rate Limit（req/min）
	RateLimitGeneral int
	RateLimitLink    int

	// Logging
	LogLevel string

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合や値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.LinkLimit = getEnvInt("LINK_LIMIT", 10)
	cfg.AutoPrimaryOnFirstLink = getEnvBool("AUTO_PRIMARY_ON_FIRST_LINK", false)
	cfg.KeyValidation = KeyValidationMode(strings.ToLower(getEnvString("KEY_VALIDATION", string(KeyValidationChecksum))))
	cfg.HorizonURL = strings.TrimRight(getEnvString("HORIZON_URL", ""), "/")
	cfg.HorizonTimeout = getEnvDuration("HORIZON_TIMEOUT", 5*time.Second)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitLink = getEnvInt("RATE_LIMIT_LINK", 10)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	if cfg.LinkLimit < 1 {
		return nil, fmt.Errorf("LINK_LIMIT must be positive: %d", cfg.LinkLimit)
	}
	switch cfg.KeyValidation {
	case KeyValidationShape, KeyValidationChecksum:
	default:
		return nil, fmt.Errorf("KEY_VALIDATION must be %q or %q: %q", KeyValidationShape, KeyValidationChecksum, cfg.KeyValidation)
	}

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
