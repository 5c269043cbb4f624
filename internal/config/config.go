package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "LICENSEHUB"

// Config represents the complete application configuration
type Config struct {
	Environment string          `envconfig:"ENV" default:"development"`
	Server      ServerConfig    `envconfig:"SERVER"`
	Database    DatabaseConfig  `envconfig:"DATABASE"`
	Redis       RedisConfig     `envconfig:"REDIS"`
	Storage     StorageConfig   `envconfig:"STORAGE"`
	Auth        AuthConfig      `envconfig:"AUTH"`
	Signing     SigningConfig   `envconfig:"SIGNING"`
	License     LicenseConfig   `envconfig:"LICENSE"`
	RateLimit   RateLimitConfig `envconfig:"RATE_LIMIT"`
	Jobs        JobsConfig      `envconfig:"JOBS"`
	Logging     LoggingConfig   `envconfig:"LOGGING"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" default:"15s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	AllowedOrigins  []string      `envconfig:"ALLOWED_ORIGINS" default:"*"`
}

// DatabaseConfig selects and configures the license store
type DatabaseConfig struct {
	Driver       string        `envconfig:"DRIVER" default:"postgres"` // postgres|memory
	DSN          string        `envconfig:"DSN"`
	MaxConns     int32         `envconfig:"MAX_CONNS" default:"10"`
	StoreTimeout time.Duration `envconfig:"STORE_TIMEOUT" default:"5s"`
	Migrate      bool          `envconfig:"MIGRATE" default:"true"`
}

type RedisConfig struct {
	Enabled  bool   `envconfig:"ENABLED" default:"false"`
	Addr     string `envconfig:"ADDR" default:"localhost:6379"`
	Password string `envconfig:"PASSWORD"`
	DB       int    `envconfig:"DB" default:"0"`
}

// StorageConfig configures the object store used for export archives
type StorageConfig struct {
	Enabled   bool   `envconfig:"ENABLED" default:"false"`
	Endpoint  string `envconfig:"ENDPOINT" default:"localhost:9000"`
	AccessKey string `envconfig:"ACCESS_KEY"`
	SecretKey string `envconfig:"SECRET_KEY"`
	Bucket    string `envconfig:"BUCKET" default:"license-exports"`
	UseSSL    bool   `envconfig:"USE_SSL" default:"false"`
}

type AuthConfig struct {
	JWTSecret         string        `envconfig:"JWT_SECRET"`
	TokenTTL          time.Duration `envconfig:"TOKEN_TTL" default:"168h"`
	BcryptCost        int           `envconfig:"BCRYPT_COST" default:"12"`
	BootstrapEmail    string        `envconfig:"BOOTSTRAP_EMAIL"`
	BootstrapPassword string        `envconfig:"BOOTSTRAP_PASSWORD"`
	BootstrapName     string        `envconfig:"BOOTSTRAP_NAME" default:"Super Admin"`
}

// SigningConfig locates the license signing key pair. Inline PEM wins over paths.
type SigningConfig struct {
	PrivateKeyPath string `envconfig:"PRIVATE_KEY_PATH" default:"keys/private.pem"`
	PrivateKeyPEM  string `envconfig:"PRIVATE_KEY"`
	PublicKeyPath  string `envconfig:"PUBLIC_KEY_PATH"`
	PublicKeyPEM   string `envconfig:"PUBLIC_KEY"`
}

type LicenseConfig struct {
	TrialDays       int `envconfig:"TRIAL_DAYS" default:"1"`
	DefaultPageSize int `envconfig:"DEFAULT_PAGE_SIZE" default:"50"`
	MaxPageSize     int `envconfig:"MAX_PAGE_SIZE" default:"1000"`
}

// RateLimitConfig limits the public license check endpoint per client IP
type RateLimitConfig struct {
	Enabled           bool `envconfig:"ENABLED" default:"true"`
	RequestsPerMinute int  `envconfig:"REQUESTS_PER_MINUTE" default:"60"`
}

type JobsConfig struct {
	ExportArchiveEnabled bool   `envconfig:"EXPORT_ARCHIVE_ENABLED" default:"false"`
	ExportArchiveCron    string `envconfig:"EXPORT_ARCHIVE_CRON" default:"0 2 * * *"`
}

type LoggingConfig struct {
	Level  string `envconfig:"LEVEL" default:"info"`
	Format string `envconfig:"FORMAT" default:"text"`
	File   string `envconfig:"FILE"`
}

// Load reads an optional .env file and then the LICENSEHUB_* environment
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// IsDevelopment reports whether the process runs in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// Validate rejects configurations the server cannot run with
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres":
		if c.Database.DSN == "" {
			return errors.New("database DSN is required for the postgres driver")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}

	if c.Auth.JWTSecret == "" && !c.IsDevelopment() {
		return errors.New("JWT secret is required outside development")
	}
	if c.License.TrialDays <= 0 {
		return fmt.Errorf("trial days must be positive, got %d", c.License.TrialDays)
	}
	if c.License.DefaultPageSize <= 0 || c.License.MaxPageSize < c.License.DefaultPageSize {
		return errors.New("invalid page size limits")
	}
	if c.Database.StoreTimeout <= 0 {
		return errors.New("store timeout must be positive")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Storage.Enabled && (c.Storage.AccessKey == "" || c.Storage.SecretKey == "") {
		return errors.New("storage credentials are required when storage is enabled")
	}
	return nil
}
