package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/Tesseract-Nexus/go-shared/secrets"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Auth modes
const (
	AuthModeJWT   = "jwt"
	AuthModeIstio = "istio"
)

// Config holds all configuration for the service
type Config struct {
	Environment     string
	Port            string
	DatabaseURL     string
	StaffServiceURL string
	NATSURL         string
	RedisURL        string
	UserCacheTTL    time.Duration
	LogLevel        string

	// AuthMode selects "jwt" (bearer tokens or trusted headers) or "istio"
	// (mesh-injected claims plus staff-service RBAC)
	AuthMode         string
	JWTSecret        string
	AuthTrustHeaders bool

	EscalationEnabled    bool
	EscalationInterval   time.Duration
	EscalationStartDelay time.Duration

	ZeroRulePolicy string
	MatrixCacheTTL time.Duration
	SeedDefaults   bool
}

// Load loads configuration from environment variables
func Load() *Config {
	return &Config{
		Environment:     getEnv("ENVIRONMENT", "development"),
		Port:            getEnv("PORT", "8099"),
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		StaffServiceURL: getEnv("STAFF_SERVICE_URL", "http://staff-service:8080"),
		NATSURL:         getEnv("NATS_URL", ""),
		RedisURL:        getEnv("REDIS_URL", ""),
		UserCacheTTL:    getDuration("USER_CACHE_TTL", 5*time.Minute),
		LogLevel:        getEnv("LOG_LEVEL", "info"),

		AuthMode:         getEnv("AUTH_MODE", AuthModeJWT),
		JWTSecret:        secrets.GetJWTSecret(),
		AuthTrustHeaders: getBool("AUTH_TRUST_HEADERS", false),

		EscalationEnabled:    getBool("ESCALATION_ENABLED", true),
		EscalationInterval:   getDuration("ESCALATION_INTERVAL", time.Hour),
		EscalationStartDelay: getDuration("ESCALATION_START_DELAY", 30*time.Second),

		ZeroRulePolicy: getEnv("ZERO_RULE_POLICY", "auto_approve"),
		MatrixCacheTTL: getDuration("MATRIX_CACHE_TTL", time.Minute),
		SeedDefaults:   getBool("SEED_DEFAULTS", true),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getDuration accepts Go durations ("90m") or plain seconds ("3600")
func getDuration(key string, defaultValue time.Duration) time.Duration {
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

// InitDB initializes the database connection
func InitDB(cfg *Config) (*gorm.DB, error) {
	dsn := cfg.DatabaseURL
	if dsn == "" {
		// Build DSN from individual components if DATABASE_URL not set
		host := getEnv("DB_HOST", "localhost")
		port := getEnv("DB_PORT", "5432")
		user := getEnv("DB_USER", "postgres")
		password := secrets.GetDBPassword() // GCP Secret Manager
		dbname := getEnv("DB_NAME", "authorization_db")
		sslmode := getEnv("DB_SSLMODE", "require")

		dsn = fmt.Sprintf(
			"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			host, port, user, password, dbname, sslmode,
		)
	}

	logLevel := logger.Silent
	if cfg.Environment == "development" {
		logLevel = logger.Info
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}
