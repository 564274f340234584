package config

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

func (c *Config) validate() error {
	validators := []func() error{
		c.validateDatabase,
		c.validateNetwork,
		c.validateLogging,
		c.validateCORS,
		c.validateEncryption,
		c.validateAuth,
		c.validateTasks,
	}

	for _, v := range validators {
		if err := v(); err != nil {
			return err
		}
	}

	return nil
}

func (c *Config) validateDatabase() error {
	if c.DatabaseURL.Value() == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	dbURL, err := url.Parse(c.DatabaseURL.Value())
	if err != nil {
		return fmt.Errorf("DATABASE_URL is not a valid URL: %w", err)
	}

	if dbURL.Scheme != "postgres" && dbURL.Scheme != "postgresql" {
		return fmt.Errorf("DATABASE_URL scheme must be postgres:// or postgresql://")
	}

	if dbURL.Hostname() == "" {
		return fmt.Errorf("DATABASE_URL must include a host")
	}

	if !isLocalHost(dbURL.Hostname()) && dbURL.Query().Get("sslmode") == "disable" {
		return fmt.Errorf("DATABASE_URL sslmode=disable is not allowed for non-local host %q", dbURL.Hostname())
	}

	if c.DBMaxConns < 2 || c.DBMaxConns > 500 {
		return fmt.Errorf("DB_MAX_CONNS must be between 2 and 500")
	}

	if c.RedisURL.Value() != "" {
		u, err := url.Parse(c.RedisURL.Value())
		if err != nil || (u.Scheme != "redis" && u.Scheme != "rediss") {
			return fmt.Errorf("REDIS_URL must be a redis:// or rediss:// URL")
		}
	}

	return nil
}

func (c *Config) validateNetwork() error {
	port, err := strconv.Atoi(c.Port)
	if err != nil {
		return fmt.Errorf("PORT must be a valid integer: %w", err)
	}

	if port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535")
	}

	// Loopback for local runs, 0.0.0.0/:: for containers behind an external boundary.
	validHosts := map[string]bool{
		"127.0.0.1": true,
		"::1":       true,
		"localhost": true,
		"0.0.0.0":   true,
		"::":        true,
	}
	if !validHosts[c.ListenHost] {
		return fmt.Errorf("LISTEN_HOST must be a loopback address or 0.0.0.0/:: for containers (got %q)", c.ListenHost)
	}

	return nil
}

func (c *Config) validateLogging() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL is invalid: %w", err)
	}

	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("LOG_FORMAT must be 'json' or 'text', got %q", c.LogFormat)
	}

	if c.LogFile != "" && (c.LogMaxSizeMB < 1 || c.LogMaxBackups < 0 || c.LogMaxAgeDays < 0) {
		return fmt.Errorf("LOG_MAX_SIZE_MB must be positive and LOG_MAX_BACKUPS/LOG_MAX_AGE_DAYS non-negative")
	}

	return nil
}

func (c *Config) validateCORS() error {
	origins := c.CORSOrigins[:0]
	for _, origin := range c.CORSOrigins {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	c.CORSOrigins = origins

	if len(c.CORSOrigins) == 0 {
		return fmt.Errorf("CORS_ORIGINS must list at least one origin")
	}

	for _, origin := range c.CORSOrigins {
		if origin == "*" {
			return fmt.Errorf("CORS_ORIGINS must not contain wildcard '*'")
		}
		if strings.ContainsAny(origin, "*?[]") {
			return fmt.Errorf("CORS_ORIGINS must not contain glob characters (*?[]), got %q", origin)
		}
		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("CORS_ORIGINS contains invalid origin %q (must have scheme and host)", origin)
		}
	}

	return nil
}

func (c *Config) validateEncryption() error {
	switch c.EncryptionProvider {
	case "static":
		if c.EncryptionKey.Value() == "" {
			return fmt.Errorf("ENCRYPTION_KEY is required when ENCRYPTION_PROVIDER is static")
		}

		keyBytes, err := hex.DecodeString(c.EncryptionKey.Value())
		if err != nil {
			return fmt.Errorf("ENCRYPTION_KEY must be valid hex: %w", err)
		}

		if len(keyBytes) != 32 {
			return fmt.Errorf("ENCRYPTION_KEY must be 64 hex characters (32 bytes), got %d chars", len(c.EncryptionKey.Value()))
		}
	case "vault":
		if c.VaultToken.Value() == "" {
			return fmt.Errorf("VAULT_TOKEN is required when ENCRYPTION_PROVIDER is vault")
		}

		if !isLocalURL(c.VaultAddr) && !strings.HasPrefix(c.VaultAddr, "https://") {
			return fmt.Errorf("VAULT_ADDR must use HTTPS for non-localhost connections")
		}
	default:
		return fmt.Errorf("ENCRYPTION_PROVIDER must be 'static' or 'vault', got %q", c.EncryptionProvider)
	}

	return nil
}

func (c *Config) validateAuth() error {
	if len(c.JWTSecret.Value()) < 32 {
		return fmt.Errorf("JWT_SECRET_KEY is required and must be at least 32 characters")
	}

	if len(c.SessionSecret.Value()) < 32 {
		return fmt.Errorf("SESSION_SECRET_KEY is required and must be at least 32 characters")
	}

	if c.JWTSecret.Value() == c.SessionSecret.Value() {
		return fmt.Errorf("SESSION_SECRET_KEY must differ from JWT_SECRET_KEY")
	}

	if c.SessionMaxAge < time.Minute {
		return fmt.Errorf("SESSION_MAX_AGE must be at least 1m")
	}

	if c.TokenCacheTTL < 0 || c.TokenCacheTTL > 5*time.Minute {
		return fmt.Errorf("TOKEN_CACHE_TTL must be between 0 and 5m")
	}

	if c.RateLimitRPS <= 0 || c.RateLimitBurst < 1 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}

	return nil
}

func (c *Config) validateTasks() error {
	if c.TaskBroker != "postgres" && c.TaskBroker != "memory" {
		return fmt.Errorf("TASK_BROKER must be 'postgres' or 'memory', got %q", c.TaskBroker)
	}

	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 64 {
		return fmt.Errorf("WORKER_CONCURRENCY must be an integer between 1 and 64")
	}

	if c.WorkerPollInterval < 10*time.Millisecond {
		return fmt.Errorf("WORKER_POLL_INTERVAL must be at least 10ms")
	}

	if c.TaskMaxRetries < 0 || c.TaskMaxRetries > 20 {
		return fmt.Errorf("TASK_MAX_RETRIES must be between 0 and 20")
	}

	if c.TaskRetryInitial <= 0 || c.TaskRetryMax < c.TaskRetryInitial {
		return fmt.Errorf("TASK_RETRY_INITIAL must be positive and not exceed TASK_RETRY_MAX")
	}

	if c.TaskJoinMaxAttempts < 1 || c.TaskJoinInterval <= 0 {
		return fmt.Errorf("TASK_JOIN_MAX_ATTEMPTS and TASK_JOIN_INTERVAL must be positive")
	}

	if c.GroupStuckAfter < time.Minute {
		return fmt.Errorf("TASK_GROUP_STUCK_AFTER must be at least 1m")
	}

	if c.EndpointTimeout <= 0 || c.EndpointTimeout > 5*time.Minute {
		return fmt.Errorf("ENDPOINT_TIMEOUT must be between 0 and 5m")
	}

	if c.AuditRetentionDays < 1 {
		return fmt.Errorf("AUDIT_RETENTION_DAYS must be at least 1")
	}

	return nil
}

func isLocalHost(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

// isLocalURL returns true if the given address points to a loopback address.
func isLocalURL(addr string) bool {
	u, err := url.Parse(addr)
	if err != nil {
		return false
	}

	return isLocalHost(u.Hostname())
}
