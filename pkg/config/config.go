package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Store backends
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server struct {
		Port     string
		GRPCPort string
		Env      string
		Timeout  time.Duration
	}

	// Database configuration
	Database struct {
		Host     string
		Port     string
		User     string
		Password string
		Name     string
		SSLMode  string
		MaxConns int
	}

	// Redis configuration
	Redis struct {
		URL      string
		Password string
		DB       int
	}

	// Store selects the retention store backend
	Store struct {
		Backend string
	}

	// JWT configuration
	JWT struct {
		Secret string
		Expiry time.Duration
	}

	// Security configuration
	Security struct {
		RateLimit      float64
		RateLimitBurst int
		AllowedOrigins []string
	}

	// Relay configuration
	Relay struct {
		EventRate  float64
		EventBurst int
		SendBuffer int
	}

	// Retention policy
	Retention struct {
		MaxMessages   int
		MaxAge        time.Duration
		SweepInterval time.Duration
		HistoryLimit  int
		MaxBodyLength int
	}

	// Identity settings
	Identity struct {
		ApprovedEmails []string
	}

	// Logging configuration
	Logging struct {
		Level  string
		Format string
	}

	// Observability settings
	Observability struct {
		TracingEnabled    bool
		OpenAPISchemaPath string
	}

	// Cache settings
	Cache struct {
		TTL         time.Duration
		MaxSize     int
		PurgeWindow time.Duration
	}

	// Vault settings
	Vault struct {
		Enabled    bool
		Address    string
		Token      string
		Namespace  string
		MountPath  string
		SecretPath string
	}
}

var (
	instance *Config
	once     sync.Once
)

// New returns the process-wide Config, loading it on first use
func New() *Config {
	once.Do(func() {
		// Load .env file if exists
		godotenv.Load()
		instance = Load()
	})
	return instance
}

// Get returns the singleton Config instance
func Get() *Config {
	if instance == nil {
		return New()
	}
	return instance
}

// Load reads a fresh Config from the environment
func Load() *Config {
	cfg := &Config{}

	cfg.Server.Port = getEnvString("PORT", "8081")
	cfg.Server.GRPCPort = getEnvString("GRPC_PORT", "9094")
	cfg.Server.Env = getEnvString("APP_ENV", "development")
	cfg.Server.Timeout = getEnvDuration("SERVER_TIMEOUT", 30*time.Second)

	cfg.Database.Host = getEnvString("DB_HOST", "localhost")
	cfg.Database.Port = getEnvString("DB_PORT", "5432")
	cfg.Database.User = getEnvString("DB_USER", "postgres")
	cfg.Database.Password = getEnvString("DB_PASSWORD", "postgres")
	cfg.Database.Name = getEnvString("DB_NAME", "private_chat")
	cfg.Database.SSLMode = getEnvString("DB_SSL_MODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 20)

	cfg.Redis.URL = getEnvString("REDIS_URL", "localhost:6379")
	cfg.Redis.Password = getEnvString("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.Store.Backend = strings.ToLower(getEnvString("STORE_BACKEND", BackendPostgres))

	// the secret itself is resolved through pkg/secrets at startup
	cfg.JWT.Secret = getEnvString("JWT_SECRET", "")
	cfg.JWT.Expiry = getEnvDuration("JWT_EXPIRY", 24*time.Hour)

	cfg.Security.RateLimit = getEnvFloat("RATE_LIMIT", 5)
	cfg.Security.RateLimitBurst = getEnvInt("RATE_LIMIT_BURST", 10)
	cfg.Security.AllowedOrigins = getEnvStringSlice("ALLOWED_ORIGINS", []string{"*"})

	cfg.Relay.EventRate = getEnvFloat("WS_EVENT_RATE", 20)
	cfg.Relay.EventBurst = getEnvInt("WS_EVENT_BURST", 40)
	cfg.Relay.SendBuffer = getEnvInt("WS_SEND_BUFFER", 256)

	cfg.Retention.MaxMessages = getEnvInt("RETENTION_MAX_MESSAGES", 50)
	cfg.Retention.MaxAge = getEnvDuration("RETENTION_MAX_AGE", 72*time.Hour)
	cfg.Retention.SweepInterval = getEnvDuration("RETENTION_SWEEP_INTERVAL", 10*time.Minute)
	cfg.Retention.HistoryLimit = getEnvInt("HISTORY_LIMIT", 100)
	cfg.Retention.MaxBodyLength = getEnvInt("MAX_BODY_LENGTH", 4000)

	cfg.Identity.ApprovedEmails = getEnvStringSlice("APPROVED_EMAILS", nil)

	cfg.Logging.Level = getEnvString("LOG_LEVEL", "info")
	cfg.Logging.Format = getEnvString("LOG_FORMAT", "json")

	cfg.Observability.TracingEnabled = getEnvBool("TRACING_ENABLED", false)
	cfg.Observability.OpenAPISchemaPath = getEnvString("OPENAPI_SCHEMA_PATH", "api/openapi.yaml")

	cfg.Cache.TTL = getEnvDuration("CACHE_TTL", 5*time.Minute)
	cfg.Cache.MaxSize = getEnvInt("CACHE_MAX_SIZE", 1000)
	cfg.Cache.PurgeWindow = getEnvDuration("CACHE_PURGE_WINDOW", 10*time.Minute)

	cfg.Vault.Enabled = getEnvBool("VAULT_ENABLED", false)
	cfg.Vault.Address = getEnvString("VAULT_ADDR", "")
	cfg.Vault.Token = getEnvString("VAULT_TOKEN", "")
	cfg.Vault.Namespace = getEnvString("VAULT_NAMESPACE", "")
	cfg.Vault.MountPath = getEnvString("VAULT_MOUNT_PATH", "secret")
	cfg.Vault.SecretPath = getEnvString("VAULT_SECRETS_PATH", "private-chat")

	return cfg
}

// IsProduction reports whether the app runs in production
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Validate checks settings the server cannot start without
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Backend {
	case BackendPostgres, BackendRedis, BackendMemory:
	default:
		errs = append(errs, errors.New("STORE_BACKEND must be postgres, redis or memory"))
	}
	if c.Retention.MaxMessages <= 0 {
		errs = append(errs, errors.New("RETENTION_MAX_MESSAGES must be positive"))
	}
	if c.Retention.MaxAge <= 0 {
		errs = append(errs, errors.New("RETENTION_MAX_AGE must be positive"))
	}
	if c.Retention.HistoryLimit <= 0 {
		errs = append(errs, errors.New("HISTORY_LIMIT must be positive"))
	}
	if c.IsProduction() && c.JWT.Secret == "" && !c.Vault.Enabled {
		errs = append(errs, errors.New("JWT_SECRET is required in production"))
	}
	return errors.Join(errs...)
}

// Helper functions to read environment variables with default values

func getEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
