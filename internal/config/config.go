// Package config provides environment-driven configuration for rhesis.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Secret wraps a sensitive string to prevent accidental logging or marshalling.
type Secret string

// String implements fmt.Stringer, returning a redacted placeholder.
func (s Secret) String() string { return "[REDACTED]" }

// GoString implements fmt.GoStringer, returning a redacted placeholder.
func (s Secret) GoString() string { return "[REDACTED]" }

// MarshalText implements encoding.TextMarshaler, returning a redacted placeholder.
func (s Secret) MarshalText() ([]byte, error) { return []byte("[REDACTED]"), nil }

// Value returns the underlying secret string.
func (s Secret) Value() string { return string(s) }

// Config holds all application configuration values.
type Config struct {
	DatabaseURL Secret `env:"DATABASE_URL"`
	DBMaxConns  int32  `env:"DB_MAX_CONNS" envDefault:"21"`
	DBRole      string `env:"DB_ROLE"`
	RedisURL    Secret `env:"REDIS_URL"`

	Port        string   `env:"PORT" envDefault:"8080"`
	ListenHost  string   `env:"LISTEN_HOST" envDefault:"127.0.0.1"`
	CORSOrigins []string `env:"CORS_ORIGINS" envDefault:"http://localhost:3000" envSeparator:","`

	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat     string `env:"LOG_FORMAT" envDefault:"json"`
	LogFile       string `env:"LOG_FILE"`
	LogMaxSizeMB  int    `env:"LOG_MAX_SIZE_MB" envDefault:"50"`
	LogMaxBackups int    `env:"LOG_MAX_BACKUPS" envDefault:"7"`
	LogMaxAgeDays int    `env:"LOG_MAX_AGE_DAYS" envDefault:"14"`

	EncryptionProvider string `env:"ENCRYPTION_PROVIDER" envDefault:"static"`
	EncryptionKey      Secret `env:"ENCRYPTION_KEY"`
	VaultAddr          string `env:"VAULT_ADDR" envDefault:"http://127.0.0.1:8200"`
	VaultToken         Secret `env:"VAULT_TOKEN"`

	JWTSecret      Secret        `env:"JWT_SECRET_KEY"`
	JWTIssuer      string        `env:"JWT_ISSUER" envDefault:"rhesis"`
	SessionSecret  Secret        `env:"SESSION_SECRET_KEY"`
	SessionSecure  bool          `env:"SESSION_COOKIE_SECURE" envDefault:"true"`
	SessionMaxAge  time.Duration `env:"SESSION_MAX_AGE" envDefault:"24h"`
	TokenCacheTTL  time.Duration `env:"TOKEN_CACHE_TTL" envDefault:"30s"`
	RateLimitRPS   int           `env:"RATE_LIMIT_RPS" envDefault:"50"`
	RateLimitBurst int           `env:"RATE_LIMIT_BURST" envDefault:"100"`

	TaskBroker          string        `env:"TASK_BROKER" envDefault:"postgres"`
	EmbeddedWorker      bool          `env:"EMBEDDED_WORKER" envDefault:"true"`
	WorkerConcurrency   int           `env:"WORKER_CONCURRENCY" envDefault:"4"`
	WorkerPollInterval  time.Duration `env:"WORKER_POLL_INTERVAL" envDefault:"500ms"`
	TaskMaxRetries      int           `env:"TASK_MAX_RETRIES" envDefault:"3"`
	TaskRetryInitial    time.Duration `env:"TASK_RETRY_INITIAL" envDefault:"1s"`
	TaskRetryMax        time.Duration `env:"TASK_RETRY_MAX" envDefault:"60s"`
	TaskJoinMaxAttempts int           `env:"TASK_JOIN_MAX_ATTEMPTS" envDefault:"10"`
	TaskJoinInterval    time.Duration `env:"TASK_JOIN_INTERVAL" envDefault:"2s"`
	GroupStuckAfter     time.Duration `env:"TASK_GROUP_STUCK_AFTER" envDefault:"30m"`
	EndpointTimeout     time.Duration `env:"ENDPOINT_TIMEOUT" envDefault:"5s"`

	AuditRetentionDays int `env:"AUDIT_RETENTION_DAYS" envDefault:"90"`
}

// Load reads an optional .env file, then configuration from environment
// variables with defaults, and validates the result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reading .env: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// Addr returns the listen address in host:port format.
func (c *Config) Addr() string {
	return c.ListenHost + ":" + c.Port
}
