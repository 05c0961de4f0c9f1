package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Port               string `validate:"required,numeric"`
	DatabaseURL        string `validate:"required"`
	AppEnv             string `validate:"required"`
	BaseURL            string `validate:"required,url"`
	GoogleClientID     string
	GoogleClientSecret string `validate:"required_with=GoogleClientID"`
	GoogleRedirectURL  string
	JWTSecret          string `validate:"required"`
	FrontendURL        string
	AllowedEmails      []string

	RedisURL string
	CacheTTL time.Duration `validate:"gte=0"`

	LogLevel  string `validate:"oneof=debug info warn warning error"`
	LogFormat string `validate:"oneof=console json"`

	Scan ScanConfig
}

// ScanConfig configures the asynchronous URL safety scanner.
type ScanConfig struct {
	APIKey      string
	BaseURL     string        `validate:"required,url"`
	Interval    time.Duration `validate:"gt=0"`
	MaxAttempts int           `validate:"gt=0"`
	Workers     int           `validate:"gt=0"`
	QueueSize   int           `validate:"gt=0"`
}

func Load() *Config {
	_ = godotenv.Load() // Ignore error if .env not found (e.g. prod)

	appEnv := getEnv("APP_ENV", "local")
	logFormat := "console"
	if appEnv == "production" {
		logFormat = "json"
	}

	return &Config{
		Port:               getEnv("PORT", "8080"),
		DatabaseURL:        getEnv("DATABASE_URL", "file:db.sqlite"),
		AppEnv:             appEnv,
		BaseURL:            strings.TrimRight(getEnv("BASE_URL", "http://localhost:8080"), "/"),
		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:  getEnv("GOOGLE_REDIRECT_URL", "http://localhost:8080/auth/google/callback"),
		JWTSecret:          getEnv("JWT_SECRET", "secret"),
		FrontendURL:        getEnv("FRONTEND_URL", "http://localhost:8080/dashboard"),
		AllowedEmails:      splitList(getEnv("ALLOWED_EMAILS", "")),
		RedisURL:           getEnv("REDIS_URL", ""),
		CacheTTL:           getDuration("CACHE_TTL", 5*time.Minute),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", logFormat),
		Scan: ScanConfig{
			APIKey:      getEnv("VIRUSTOTAL_API_KEY", ""),
			BaseURL:     strings.TrimRight(getEnv("SCAN_BASE_URL", "https://www.virustotal.com/api/v3"), "/"),
			Interval:    getDuration("SCAN_INTERVAL", 20*time.Second),
			MaxAttempts: getInt("SCAN_MAX_ATTEMPTS", 3),
			Workers:     getInt("SCAN_WORKERS", 2),
			QueueSize:   getInt("SCAN_QUEUE_SIZE", 100),
		},
	}
}

// Validate reports the first set of invalid fields, if any.
func (c *Config) Validate() error {
	return validator.New().Struct(c)
}

// AuthEnabled reports whether Google login guards the API. Without it the
// deployment is unauthenticated and links have no owner.
func (c *Config) AuthEnabled() bool {
	return c.GoogleClientID != ""
}

// ScanEnabled reports whether destinations are submitted for scanning.
// Without an API key every link is treated as passed.
func (c *Config) ScanEnabled() bool {
	return c.Scan.APIKey != ""
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
