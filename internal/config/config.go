package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// LoadEnv loads variables from a .env file if present.
func LoadEnv() {
	if err := godotenv.Load(); err != nil {
		logrus.WithError(err).Debug("no .env file found")
	}
}

// GetEnv returns an environment variable or a default value.
func GetEnv(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return defaultVal
}

// GetIntEnv returns an int environment variable or a default value.
func GetIntEnv(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// GetDurationEnv returns a time.Duration environment variable (e.g. "15s") or a default value.
func GetDurationEnv(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

// GetFloatEnv returns a float64 environment variable or a default value.
func GetFloatEnv(key string, defaultVal float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

// IsProduction checks if the app runs in production mode.
func IsProduction() bool {
	return GetEnv("ENV", "development") == "production"
}

type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	Timeout       time.Duration
	// RequestsPerSecond throttles outbound gateway calls.
	RequestsPerSecond float64
}

type RetryConfig struct {
	MaxExternalRefundAttempts int
	MaxPaymentAttempts        int
	BaseDelay                 time.Duration
	MaxDelay                  time.Duration
}

type WorkerConfig struct {
	PollInterval    time.Duration
	MaxTaskAttempts int
	// TaskLease is how long a claimed task may run before another worker
	// takes it back.
	TaskLease  time.Duration
	StaleAfter time.Duration
	SweepBatch int
}

// Config is the full runtime configuration, read once at startup.
type Config struct {
	Port            string
	LogLevel        string
	DefaultCurrency string
	BalanceCacheTTL time.Duration
	NATSURL         string
	JWTSecret       string

	Database DatabaseConfig
	Redis    RedisConfig
	Stripe   StripeConfig
	Retry    RetryConfig
	Worker   WorkerConfig
}

// Load builds a Config from the environment. Call LoadEnv first to pick up .env files.
func Load() *Config {
	return &Config{
		Port:            GetEnv("PORT", "3000"),
		LogLevel:        GetEnv("LOG_LEVEL", "info"),
		DefaultCurrency: GetEnv("DEFAULT_CURRENCY", "USD"),
		BalanceCacheTTL: GetDurationEnv("BALANCE_CACHE_TTL", 5*time.Minute),
		NATSURL:         GetEnv("NATS_URL", "nats://localhost:4222"),
		JWTSecret:       GetEnv("JWT_SECRET", ""),
		Database: DatabaseConfig{
			Host:            GetEnv("DB_HOST", "localhost"),
			Port:            GetEnv("DB_PORT", "5432"),
			User:            GetEnv("DB_USER", "postgres"),
			Password:        GetEnv("DB_PASSWORD", "postgres"),
			Name:            GetEnv("DB_NAME", "paycore"),
			SSLMode:         GetEnv("DB_SSLMODE", "disable"),
			MaxIdleConns:    GetIntEnv("DB_MAX_IDLE_CONNS", 10),
			MaxOpenConns:    GetIntEnv("DB_MAX_OPEN_CONNS", 100),
			ConnMaxLifetime: GetDurationEnv("DB_CONN_MAX_LIFETIME", time.Hour),
			ConnMaxIdleTime: GetDurationEnv("DB_CONN_MAX_IDLE_TIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			Host:     GetEnv("REDIS_HOST", "localhost"),
			Port:     GetEnv("REDIS_PORT", "6379"),
			Password: GetEnv("REDIS_PASSWORD", ""),
			DB:       GetIntEnv("REDIS_DB", 0),
		},
		Stripe: StripeConfig{
			SecretKey:         GetEnv("STRIPE_SECRET_KEY", ""),
			WebhookSecret:     GetEnv("STRIPE_WEBHOOK_SECRET", ""),
			Timeout:           GetDurationEnv("GATEWAY_TIMEOUT", 15*time.Second),
			RequestsPerSecond: GetFloatEnv("GATEWAY_RPS", 20),
		},
		Retry: RetryConfig{
			MaxExternalRefundAttempts: GetIntEnv("MAX_EXTERNAL_REFUND_ATTEMPTS", 5),
			MaxPaymentAttempts:        GetIntEnv("MAX_PAYMENT_ATTEMPTS", 3),
			BaseDelay:                 GetDurationEnv("RETRY_BASE_DELAY", 30*time.Second),
			MaxDelay:                  GetDurationEnv("RETRY_MAX_DELAY", time.Hour),
		},
		Worker: WorkerConfig{
			PollInterval:    GetDurationEnv("WORKER_POLL_INTERVAL", time.Second),
			MaxTaskAttempts: GetIntEnv("WORKER_MAX_TASK_ATTEMPTS", 3),
			TaskLease:       GetDurationEnv("WORKER_TASK_LEASE", 5*time.Minute),
			StaleAfter:      GetDurationEnv("SWEEP_STALE_AFTER", 30*time.Minute),
			SweepBatch:      GetIntEnv("SWEEP_BATCH", 100),
		},
	}
}

// NewLogger builds the process logger: JSON in production, text otherwise.
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	if IsProduction() {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}
