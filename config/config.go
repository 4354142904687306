package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Env       string
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Proof     ProofConfig
	AWS       AWSConfig
	Retention RetentionConfig
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
	URL      string // if set, used as-is
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

// JWTConfig holds staff session signing settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// ProofConfig holds capability token and proof storage settings.
type ProofConfig struct {
	TokenSecret   string
	StorageDir    string
	BindingDir    string
	MaxUploadSize int64
	BaseURL       string // public base URL embedded in QR bindings and delivery links
}

// AWSConfig holds AWS credentials and the archive bucket.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	ArchiveBucket        string
	PresignExpireMinutes int
}

// RetentionConfig controls when local proofs move to the archive.
type RetentionConfig struct {
	Enabled      bool
	LocalWindow  time.Duration
	ScanInterval time.Duration
}

// DSN returns the PostgreSQL connection string. If DatabaseConfig.URL is set
// (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file. In
// production the capability token secret must be provided explicitly; in
// development a random per-run secret is generated, which invalidates all
// outstanding tokens on restart.
func Load() (*Config, error) {
	_ = godotenv.Load() // .env

	env := getEnv("APP_ENV", "development")

	tokenSecret := os.Getenv("PROOF_TOKEN_SECRET")
	if tokenSecret == "" {
		if env == "production" {
			return nil, fmt.Errorf("PROOF_TOKEN_SECRET is required in production")
		}
		tokenSecret = randomSecret()
	}

	// Same posture as the token secret: explicit in production, random
	// per run in development (restarts log every staff session out).
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		if env == "production" {
			return nil, fmt.Errorf("JWT_SECRET is required in production")
		}
		jwtSecret = randomSecret()
	}

	readTimeout, _ := strconv.Atoi(getEnv("READ_TIMEOUT_SEC", "30"))
	writeTimeout, _ := strconv.Atoi(getEnv("WRITE_TIMEOUT_SEC", "60"))
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	jwtExpire, _ := strconv.Atoi(getEnv("JWT_EXPIRE_HOURS", "8"))

	cfg := &Config{
		Env: env,
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        readTimeout,
			WriteTimeout:       writeTimeout,
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", "postgres://localhost:5432/proofs?sslmode=disable"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "proofs"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		JWT: JWTConfig{
			Secret:      jwtSecret,
			ExpireHours: jwtExpire,
		},
		Proof: ProofConfig{
			TokenSecret:   tokenSecret,
			StorageDir:    getEnv("PROOF_STORAGE_DIR", "./data/proofs"),
			BindingDir:    getEnv("PROOF_BINDING_DIR", "./data/bindings"),
			MaxUploadSize: getEnvInt64("PROOF_MAX_UPLOAD_BYTES", 200*1024*1024),
			BaseURL:       getEnv("PUBLIC_BASE_URL", "http://localhost:8080"),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			ArchiveBucket:        getEnv("AWS_S3_ARCHIVE_BUCKET", ""),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
		Retention: RetentionConfig{
			Enabled:      getEnv("RETENTION_ENABLED", "false") == "true",
			LocalWindow:  time.Duration(getEnvInt("RETENTION_LOCAL_DAYS", 90)) * 24 * time.Hour,
			ScanInterval: time.Duration(getEnvInt("RETENTION_SCAN_MINUTES", 60)) * time.Minute,
		},
	}
	if cfg.Retention.Enabled && cfg.AWS.ArchiveBucket == "" {
		return nil, fmt.Errorf("AWS_S3_ARCHIVE_BUCKET is required when retention is enabled")
	}
	return cfg, nil
}

func randomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("generate dev token secret: %v", err))
	}
	return hex.EncodeToString(b)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}
