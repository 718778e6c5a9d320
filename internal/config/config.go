package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Rate limit store constants
const (
	RateLimitStoreMemory = "memory"
	RateLimitStoreRedis  = "redis"
)

// Cache type constants, shared by the client cache and the metrics cache
const (
	CacheTypeMemory = "memory"
	CacheTypeRedis  = "redis"
)

// Database driver constants
const (
	DatabaseDriverSQLite   = "sqlite"
	DatabaseDriverPostgres = "postgres"
)

const (
	defaultTokenHashSecret = "token-hash-secret-change-in-production" //nolint:gosec // G101: development default
	defaultSessionSecret   = "session-secret-change-in-production"
)

type Config struct {
	// Server settings
	ServerAddr   string
	BaseURL      string
	IsProduction bool
	LogLevel     string

	// Database
	DatabaseDriver string // "sqlite" or "postgres"
	DatabaseDSN    string // Database connection string (DSN or path)

	// Credential hashing
	TokenHashSecret  string
	ClientSecretCost int // bcrypt cost for client secrets (0 = bcrypt default)

	// Token lifetimes
	AuthorizationCodeExpiration time.Duration
	AccessTokenExpiration       time.Duration
	RefreshTokenExpiration      time.Duration

	// Scope catalogue accepted when registering clients (empty = any scope)
	ScopeCatalog []string

	// Session settings (interactive authorization endpoint)
	SessionSecret     string
	SessionMaxAge     int    // seconds
	TrustedUserHeader string // set by an authenticating reverse proxy
	TrustedOrgHeader  string
	// Space-delimited scopes the user may grant, set by the same proxy
	TrustedScopesHeader string

	// External permissions API consulted when the session carries no scopes
	PermissionsAPIURL           string
	PermissionsAPIAuthMode      string // "none", "simple" or "hmac"
	PermissionsAPISecret        string
	PermissionsAPIAuthHeader    string
	PermissionsAPITimeout       time.Duration
	PermissionsAPIMaxRetries    int
	PermissionsAPIRetryDelay    time.Duration
	PermissionsAPIMaxRetryDelay time.Duration

	// Admin API
	AdminAPIKey string

	// Rate limiting
	EnableRateLimit          bool
	RateLimitStore           string // "memory" or "redis"
	RateLimitCleanupInterval time.Duration
	TokenRateLimit           int // requests per minute per IP
	RevokeRateLimit          int
	AuthorizeRateLimit       int

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Client cache
	ClientCacheType string
	ClientCacheTTL  time.Duration

	// Metrics
	MetricsEnabled             bool
	MetricsToken               string
	MetricsGaugeUpdateEnabled  bool
	MetricsGaugeUpdateInterval time.Duration
	MetricsCacheType           string

	// Audit logging
	EnableAuditLogging bool
	AuditLogBufferSize int
	AuditLogRetention  time.Duration

	// Timeouts
	DBInitTimeout         time.Duration
	RedisConnTimeout      time.Duration
	CacheInitTimeout      time.Duration
	ServerShutdownTimeout time.Duration
	AuditShutdownTimeout  time.Duration
}

// Load reads configuration from the environment, after loading an optional .env file.
func Load() *Config {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	driver := getEnv("DATABASE_DRIVER", DatabaseDriverSQLite)
	var dsn string
	if driver == DatabaseDriverSQLite {
		dsn = getEnv("DATABASE_DSN", "oauthcore.db")
	} else {
		dsn = getEnv("DATABASE_DSN", "")
	}

	return &Config{
		ServerAddr:   getEnv("SERVER_ADDR", ":8080"),
		BaseURL:      getEnv("BASE_URL", "http://localhost:8080"),
		IsProduction: getEnv("ENVIRONMENT", "development") == "production",
		LogLevel:     getEnv("LOG_LEVEL", "info"),

		DatabaseDriver: driver,
		DatabaseDSN:    dsn,

		TokenHashSecret:  getEnv("TOKEN_HASH_SECRET", defaultTokenHashSecret),
		ClientSecretCost: getEnvInt("CLIENT_SECRET_BCRYPT_COST", 0),

		AuthorizationCodeExpiration: getEnvDuration("AUTHORIZATION_CODE_EXPIRATION", 10*time.Minute),
		AccessTokenExpiration:       getEnvDuration("ACCESS_TOKEN_EXPIRATION", time.Hour),
		RefreshTokenExpiration: getEnvDuration(
			"REFRESH_TOKEN_EXPIRATION",
			720*time.Hour,
		), // 30 days

		ScopeCatalog: getEnvSlice("SCOPE_CATALOG", nil),

		SessionSecret:     getEnv("SESSION_SECRET", defaultSessionSecret),
		SessionMaxAge:     getEnvInt("SESSION_MAX_AGE", 86400),
		TrustedUserHeader: getEnv("TRUSTED_USER_HEADER", ""),
		TrustedOrgHeader:  getEnv("TRUSTED_ORG_HEADER", ""),

		TrustedScopesHeader: getEnv("TRUSTED_SCOPES_HEADER", ""),

		PermissionsAPIURL:           getEnv("PERMISSIONS_API_URL", ""),
		PermissionsAPIAuthMode:      getEnv("PERMISSIONS_API_AUTH_MODE", "none"),
		PermissionsAPISecret:        getEnv("PERMISSIONS_API_SECRET", ""),
		PermissionsAPIAuthHeader:    getEnv("PERMISSIONS_API_AUTH_HEADER", "X-API-Secret"),
		PermissionsAPITimeout:       getEnvDuration("PERMISSIONS_API_TIMEOUT", 5*time.Second),
		PermissionsAPIMaxRetries:    getEnvInt("PERMISSIONS_API_MAX_RETRIES", 2),
		PermissionsAPIRetryDelay:    getEnvDuration("PERMISSIONS_API_RETRY_DELAY", 200*time.Millisecond),
		PermissionsAPIMaxRetryDelay: getEnvDuration("PERMISSIONS_API_MAX_RETRY_DELAY", 2*time.Second),

		AdminAPIKey: getEnv("ADMIN_API_KEY", ""),

		EnableRateLimit:          getEnvBool("ENABLE_RATE_LIMIT", true),
		RateLimitStore:           getEnv("RATE_LIMIT_STORE", RateLimitStoreMemory),
		RateLimitCleanupInterval: getEnvDuration("RATE_LIMIT_CLEANUP_INTERVAL", 5*time.Minute),
		TokenRateLimit:           getEnvInt("TOKEN_RATE_LIMIT", 30),
		RevokeRateLimit:          getEnvInt("REVOKE_RATE_LIMIT", 30),
		AuthorizeRateLimit:       getEnvInt("AUTHORIZE_RATE_LIMIT", 60),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		ClientCacheType: getEnv("CLIENT_CACHE_TYPE", CacheTypeMemory),
		ClientCacheTTL:  getEnvDuration("CLIENT_CACHE_TTL", 5*time.Minute),

		MetricsEnabled:             getEnvBool("METRICS_ENABLED", false),
		MetricsToken:               getEnv("METRICS_TOKEN", ""),
		MetricsGaugeUpdateEnabled:  getEnvBool("METRICS_GAUGE_UPDATE_ENABLED", true),
		MetricsGaugeUpdateInterval: getEnvDuration("METRICS_GAUGE_UPDATE_INTERVAL", 5*time.Minute),
		MetricsCacheType:           getEnv("METRICS_CACHE_TYPE", CacheTypeMemory),

		EnableAuditLogging: getEnvBool("ENABLE_AUDIT_LOGGING", true),
		AuditLogBufferSize: getEnvInt("AUDIT_LOG_BUFFER_SIZE", 1000),
		AuditLogRetention:  getEnvDuration("AUDIT_LOG_RETENTION", 90*24*time.Hour),

		DBInitTimeout:         getEnvDuration("DB_INIT_TIMEOUT", 30*time.Second),
		RedisConnTimeout:      getEnvDuration("REDIS_CONN_TIMEOUT", 5*time.Second),
		CacheInitTimeout:      getEnvDuration("CACHE_INIT_TIMEOUT", 5*time.Second),
		ServerShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 5*time.Second),
		AuditShutdownTimeout:  getEnvDuration("AUDIT_SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}

// Validate checks enum-valued settings and cross-field requirements.
func (c *Config) Validate() error {
	switch c.DatabaseDriver {
	case DatabaseDriverSQLite, DatabaseDriverPostgres:
	default:
		return fmt.Errorf(
			"invalid DATABASE_DRIVER value: %q (must be %q or %q)",
			c.DatabaseDriver, DatabaseDriverSQLite, DatabaseDriverPostgres,
		)
	}
	if c.DatabaseDriver == DatabaseDriverPostgres && c.DatabaseDSN == "" {
		return errors.New("DATABASE_DSN is required when DATABASE_DRIVER=postgres")
	}

	if c.TokenHashSecret == "" {
		return errors.New("TOKEN_HASH_SECRET must not be empty")
	}
	if c.IsProduction {
		if c.TokenHashSecret == defaultTokenHashSecret {
			return errors.New("TOKEN_HASH_SECRET must be changed in production")
		}
		if c.SessionSecret == defaultSessionSecret {
			return errors.New("SESSION_SECRET must be changed in production")
		}
	}

	if c.AccessTokenExpiration <= 0 || c.RefreshTokenExpiration <= 0 ||
		c.AuthorizationCodeExpiration <= 0 {
		return errors.New("token expirations must be positive durations")
	}

	if c.RateLimitStore != RateLimitStoreMemory && c.RateLimitStore != RateLimitStoreRedis {
		return fmt.Errorf(
			"invalid RATE_LIMIT_STORE value: %q (must be %q or %q)",
			c.RateLimitStore, RateLimitStoreMemory, RateLimitStoreRedis,
		)
	}
	if c.EnableRateLimit && c.RateLimitStore == RateLimitStoreRedis && c.RedisAddr == "" {
		return errors.New(`RATE_LIMIT_STORE="redis" requires REDIS_ADDR`)
	}

	if c.PermissionsAPIURL != "" {
		switch c.PermissionsAPIAuthMode {
		case "", "none":
		case "simple", "hmac":
			if c.PermissionsAPISecret == "" {
				return fmt.Errorf(
					"PERMISSIONS_API_AUTH_MODE=%q requires PERMISSIONS_API_SECRET",
					c.PermissionsAPIAuthMode,
				)
			}
		default:
			return fmt.Errorf(
				"invalid PERMISSIONS_API_AUTH_MODE value: %q (must be none, simple or hmac)",
				c.PermissionsAPIAuthMode,
			)
		}
	}

	if err := validateCacheType("CLIENT_CACHE_TYPE", c.ClientCacheType, c.RedisAddr); err != nil {
		return err
	}
	if c.MetricsEnabled && c.MetricsGaugeUpdateEnabled {
		if err := validateCacheType("METRICS_CACHE_TYPE", c.MetricsCacheType, c.RedisAddr); err != nil {
			return err
		}
	}

	return nil
}

func validateCacheType(key, value, redisAddr string) error {
	switch value {
	case CacheTypeMemory:
		return nil
	case CacheTypeRedis:
		if redisAddr == "" {
			return fmt.Errorf("%s=%q requires REDIS_ADDR", key, value)
		}
		return nil
	default:
		return fmt.Errorf(
			"invalid %s value: %q (must be %q or %q)",
			key, value, CacheTypeMemory, CacheTypeRedis,
		)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var i int
		if _, err := fmt.Sscanf(value, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		if parts := splitAndTrim(value, ","); len(parts) > 0 {
			return parts
		}
	}
	return defaultValue
}

func splitAndTrim(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
