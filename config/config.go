package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Zoom     ZoomConfig
	Crypto   CryptoConfig
	Worker   WorkerConfig
	Import   ImportConfig
	AWS      AWSConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/meetingscribe?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT signing and validation settings for the management API.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// ZoomConfig holds provider API credentials and endpoints.
type ZoomConfig struct {
	ClientID      string
	ClientSecret  string
	WebhookSecret string // app-level secret; used for URL-validation and as fallback when no integration matches
	APIBaseURL    string
	OAuthTokenURL string
	// RateLimit is the max provider calls admitted per trailing minute,
	// shared process-wide. Kept below the provider's stated 100/min.
	RateLimit int
}

// CryptoConfig holds the token-at-rest encryption key.
type CryptoConfig struct {
	// Key is the base64-encoded 32-byte secretbox key.
	Key string
}

// WorkerConfig holds job poll loop settings.
type WorkerConfig struct {
	PollInterval time.Duration
	BatchSize    int
	JobTimeout   time.Duration
}

// ImportConfig holds historical backfill settings.
type ImportConfig struct {
	PageSize int
	// EnqueueDelay throttles per-recording inserts during backfill so a large
	// date range does not flood the queue in one burst.
	EnqueueDelay time.Duration
}

// AWSConfig holds AWS credentials and the recordings bucket.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	RecordingsBucket     string
	PresignExpireMinutes int
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	readTimeout, _ := strconv.Atoi(getEnv("READ_TIMEOUT_SEC", "30"))
	writeTimeout, _ := strconv.Atoi(getEnv("WRITE_TIMEOUT_SEC", "30"))
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	jwtExpire, _ := strconv.Atoi(getEnv("JWT_EXPIRE_HOURS", "24"))

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        readTimeout,
			WriteTimeout:       writeTimeout,
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", "postgres://localhost:5432/meetingscribe?sslmode=disable"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "meetingscribe"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: jwtExpire,
		},
		Zoom: ZoomConfig{
			ClientID:      getEnv("ZOOM_CLIENT_ID", ""),
			ClientSecret:  getEnv("ZOOM_CLIENT_SECRET", ""),
			WebhookSecret: getEnv("ZOOM_WEBHOOK_SECRET", ""),
			APIBaseURL:    getEnv("ZOOM_API_BASE_URL", "https://api.zoom.us/v2"),
			OAuthTokenURL: getEnv("ZOOM_OAUTH_TOKEN_URL", "https://zoom.us/oauth/token"),
			RateLimit:     getEnvInt("ZOOM_RATE_LIMIT_PER_MINUTE", 80),
		},
		Crypto: CryptoConfig{
			Key: getEnv("TOKEN_ENCRYPTION_KEY", ""),
		},
		Worker: WorkerConfig{
			PollInterval: time.Duration(getEnvInt("WORKER_POLL_INTERVAL_SEC", 5)) * time.Second,
			BatchSize:    getEnvInt("WORKER_BATCH_SIZE", 5),
			JobTimeout:   time.Duration(getEnvInt("WORKER_JOB_TIMEOUT_SEC", 600)) * time.Second,
		},
		Import: ImportConfig{
			PageSize:     getEnvInt("IMPORT_PAGE_SIZE", 30),
			EnqueueDelay: time.Duration(getEnvInt("IMPORT_ENQUEUE_DELAY_MS", 200)) * time.Millisecond,
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			RecordingsBucket:     getEnv("AWS_S3_RECORDINGS_BUCKET", "meetingscribe-recordings"),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
	}
	return cfg, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
