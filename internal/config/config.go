package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	CORS     CORSConfig
	Resolver ResolverConfig
	Cache    CacheConfig
	Import   ImportConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string
	Env  string
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	PoolMin  int
	PoolMax  int
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	Origins []string
}

// ResolverConfig controls calls to the external cadastral lookup service.
type ResolverConfig struct {
	BaseURL                string
	CoordsOrder            string
	CallTimeout            time.Duration
	BatchPause             time.Duration
	HTTPTimeout            time.Duration
	BatchSize              int
	MaxConsecutiveFailures int
	RetryCount             int
}

// CacheConfig holds the optional Redis cache for cadastral lookups.
// An empty RedisAddr disables caching.
type CacheConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration
}

// ImportConfig holds import limits and normalizer overrides.
type ImportConfig struct {
	AliasesFile string
	MaxRows     int
}

// Load reads configuration from environment variables.
// An optional .env file (ENV_FILE, default ".env") is loaded first; variables
// already present in the environment win.
func Load() (*Config, error) {
	if err := loadEnvFile(); err != nil {
		return nil, err
	}

	v := viper.New()

	// Set defaults for development
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_NAME", "plotsync")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_POOL_MIN", 2)
	v.SetDefault("DB_POOL_MAX", 10)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000,http://localhost:3001")
	v.SetDefault("RESOLVER_BASE_URL", "https://nspd.gov.ru")
	v.SetDefault("RESOLVER_COORDS_ORDER", "lat,lon")
	v.SetDefault("RESOLVER_CALL_TIMEOUT", "90s")
	v.SetDefault("RESOLVER_BATCH_PAUSE", "250ms")
	v.SetDefault("RESOLVER_HTTP_TIMEOUT", "60s")
	v.SetDefault("RESOLVER_BATCH_SIZE", 2)
	v.SetDefault("RESOLVER_MAX_CONSECUTIVE_FAILURES", 3)
	v.SetDefault("RESOLVER_RETRY_COUNT", 1)
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("CACHE_TTL", "24h")
	v.SetDefault("IMPORT_MAX_ROWS", 5000)

	// Bind environment variables
	v.AutomaticEnv()

	cfg := &Config{
		Server: ServerConfig{
			Port: v.GetString("PORT"),
			Env:  v.GetString("ENV"),
		},
		Database: DatabaseConfig{
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			Name:     v.GetString("DB_NAME"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			PoolMin:  v.GetInt("DB_POOL_MIN"),
			PoolMax:  v.GetInt("DB_POOL_MAX"),
		},
		CORS: CORSConfig{
			Origins: parseList(v.GetString("CORS_ORIGINS")),
		},
		Resolver: ResolverConfig{
			BaseURL:                strings.TrimRight(v.GetString("RESOLVER_BASE_URL"), "/"),
			CoordsOrder:            v.GetString("RESOLVER_COORDS_ORDER"),
			CallTimeout:            v.GetDuration("RESOLVER_CALL_TIMEOUT"),
			BatchPause:             v.GetDuration("RESOLVER_BATCH_PAUSE"),
			HTTPTimeout:            v.GetDuration("RESOLVER_HTTP_TIMEOUT"),
			BatchSize:              v.GetInt("RESOLVER_BATCH_SIZE"),
			MaxConsecutiveFailures: v.GetInt("RESOLVER_MAX_CONSECUTIVE_FAILURES"),
			RetryCount:             v.GetInt("RESOLVER_RETRY_COUNT"),
		},
		Cache: CacheConfig{
			RedisAddr:     v.GetString("REDIS_ADDR"),
			RedisPassword: v.GetString("REDIS_PASSWORD"),
			RedisDB:       v.GetInt("REDIS_DB"),
			TTL:           v.GetDuration("CACHE_TTL"),
		},
		Import: ImportConfig{
			AliasesFile: v.GetString("IMPORT_ALIASES_FILE"),
			MaxRows:     v.GetInt("IMPORT_MAX_ROWS"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration is present and valid.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("PORT is required")
	}

	if c.Database.Host == "" {
		return fmt.Errorf("DB_HOST is required")
	}
	if c.Database.Port == "" {
		return fmt.Errorf("DB_PORT is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("DB_NAME is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("DB_USER is required")
	}
	if c.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if c.Database.PoolMin < 0 {
		return fmt.Errorf("DB_POOL_MIN must be non-negative")
	}
	if c.Database.PoolMax < 1 {
		return fmt.Errorf("DB_POOL_MAX must be at least 1")
	}
	if c.Database.PoolMin > c.Database.PoolMax {
		return fmt.Errorf("DB_POOL_MIN must be less than or equal to DB_POOL_MAX")
	}

	if len(c.CORS.Origins) == 0 {
		return fmt.Errorf("CORS_ORIGINS is required")
	}

	if err := c.Resolver.Validate(); err != nil {
		return err
	}

	if c.Cache.RedisAddr != "" && c.Cache.TTL <= 0 {
		return fmt.Errorf("CACHE_TTL must be positive when REDIS_ADDR is set")
	}
	if c.Import.MaxRows < 1 {
		return fmt.Errorf("IMPORT_MAX_ROWS must be at least 1")
	}

	return nil
}

// Validate checks the resolver settings.
func (r ResolverConfig) Validate() error {
	if r.BaseURL == "" {
		return fmt.Errorf("RESOLVER_BASE_URL is required")
	}
	if r.CoordsOrder != "lat,lon" && r.CoordsOrder != "lon,lat" {
		return fmt.Errorf("RESOLVER_COORDS_ORDER must be lat,lon or lon,lat")
	}
	if r.CallTimeout <= 0 {
		return fmt.Errorf("RESOLVER_CALL_TIMEOUT must be positive")
	}
	if r.BatchPause < 0 {
		return fmt.Errorf("RESOLVER_BATCH_PAUSE must be non-negative")
	}
	if r.BatchSize < 1 {
		return fmt.Errorf("RESOLVER_BATCH_SIZE must be at least 1")
	}
	if r.MaxConsecutiveFailures < 1 {
		return fmt.Errorf("RESOLVER_MAX_CONSECUTIVE_FAILURES must be at least 1")
	}
	if r.RetryCount < 0 {
		return fmt.Errorf("RESOLVER_RETRY_COUNT must be non-negative")
	}
	return nil
}

// loadEnvFile loads ENV_FILE (default .env) if it exists.
func loadEnvFile() error {
	path := os.Getenv("ENV_FILE")
	explicit := path != ""
	if !explicit {
		path = ".env"
	}

	if _, err := os.Stat(path); err != nil {
		if explicit {
			return fmt.Errorf("env file %s: %w", path, err)
		}
		return nil
	}

	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// parseList splits a comma-separated string into trimmed non-empty parts.
func parseList(value string) []string {
	if value == "" {
		return []string{}
	}

	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
