// Package config loads server configuration from defaults, an optional YAML
// file, an optional .env file and the environment, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"library-backend/library"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Auth        AuthConfig        `yaml:"auth"`
	Log         LogConfig         `yaml:"log"`
	RateLimit   RateLimitConfig   `yaml:"rateLimit"`
	Idempotency IdempotencyConfig `yaml:"idempotency"`
	Workers     WorkersConfig     `yaml:"workers"`
	Library     LibraryConfig     `yaml:"library"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"LIBRARY_ADDR"`
	ReadTimeout     time.Duration `yaml:"readTimeout" env:"LIBRARY_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"writeTimeout" env:"LIBRARY_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" env:"LIBRARY_SHUTDOWN_TIMEOUT"`
	ResetURL        string        `yaml:"resetURL" env:"LIBRARY_RESET_URL"`
	SecureCookies   bool          `yaml:"secureCookies" env:"LIBRARY_SECURE_COOKIES"`
}

type DatabaseConfig struct {
	Path string `yaml:"path" env:"LIBRARY_DB_PATH"`
}

type AuthConfig struct {
	AccessSecret  string        `yaml:"accessSecret" env:"JWT_ACCESS_SECRET"`
	RefreshSecret string        `yaml:"refreshSecret" env:"JWT_REFRESH_SECRET"`
	AccessTTL     time.Duration `yaml:"accessTTL" env:"JWT_ACCESS_EXPIRES_IN"`
	RefreshTTL    time.Duration `yaml:"refreshTTL" env:"JWT_REFRESH_EXPIRES_IN"`
	BcryptCost    int           `yaml:"bcryptCost" env:"LIBRARY_BCRYPT_COST"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requestsPerSecond" env:"LIBRARY_RATE_LIMIT"`
	Burst             int     `yaml:"burst" env:"LIBRARY_RATE_BURST"`
}

type IdempotencyConfig struct {
	Path string        `yaml:"path" env:"LIBRARY_IDEMPOTENCY_PATH"`
	TTL  time.Duration `yaml:"ttl" env:"LIBRARY_IDEMPOTENCY_TTL"`
}

type WorkersConfig struct {
	OverdueSchedule     string `yaml:"overdueSchedule" env:"LIBRARY_OVERDUE_SCHEDULE"`
	MaintenanceSchedule string `yaml:"maintenanceSchedule" env:"LIBRARY_MAINTENANCE_SCHEDULE"`
}

// LibraryConfig holds the settings used until an admin stores a revision.
type LibraryConfig struct {
	AgeMin           int    `yaml:"ageMin" env:"LIBRARY_AGE_MIN"`
	AgeMax           int    `yaml:"ageMax" env:"LIBRARY_AGE_MAX"`
	ExpiredMonths    int    `yaml:"expiredMonths" env:"LIBRARY_EXPIRED_MONTHS"`
	PublicationYears int    `yaml:"publicationYears" env:"LIBRARY_PUBLICATION_YEARS"`
	BorrowingDays    int    `yaml:"borrowingDays" env:"LIBRARY_BORROWING_DAYS"`
	MaxCopies        int    `yaml:"maxCopies" env:"LIBRARY_MAX_COPIES"`
	LateFeePerDay    string `yaml:"lateFeePerDay" env:"LIBRARY_LATE_FEE_PER_DAY"`
}

// Default returns a configuration usable for local development, minus the
// JWT secrets.
func Default() *Config {
	s := library.DefaultSettings()
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			ResetURL:        "http://localhost:8080/api/v1/users/reset-password",
		},
		Database: DatabaseConfig{Path: "library.db"},
		Auth: AuthConfig{
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 24 * time.Hour,
			BcryptCost: 12,
		},
		Log:         LogConfig{Level: "info", Format: "text"},
		RateLimit:   RateLimitConfig{RequestsPerSecond: 10, Burst: 20},
		Idempotency: IdempotencyConfig{Path: "idempotency.db", TTL: 24 * time.Hour},
		Workers:     WorkersConfig{OverdueSchedule: "@every 1h", MaintenanceSchedule: "@every 10m"},
		Library: LibraryConfig{
			AgeMin:           s.AgeMin,
			AgeMax:           s.AgeMax,
			ExpiredMonths:    s.ExpiredMonths,
			PublicationYears: s.PublicationYears,
			BorrowingDays:    s.BorrowingDays,
			MaxCopies:        s.MaxCopies,
			LateFeePerDay:    s.LateFeePerDay.String(),
		},
	}
}

// Load builds the configuration. Empty paths are skipped. A missing .env file
// is not an error; a missing YAML file is.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if envFile != "" {
		// Variables already in the environment win over the file.
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return errors.New("rate limit must not be negative")
	}
	if c.Auth.AccessTTL <= 0 || c.Auth.RefreshTTL <= 0 {
		return errors.New("token lifetimes must be positive")
	}
	if _, err := c.Library.Settings(); err != nil {
		return err
	}
	return nil
}

// RequireSecrets reports whether the JWT secrets needed to serve are present.
func (c *Config) RequireSecrets() error {
	if c.Auth.AccessSecret == "" || c.Auth.RefreshSecret == "" {
		return errors.New("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must be set")
	}
	if c.Auth.AccessSecret == c.Auth.RefreshSecret {
		return errors.New("access and refresh secrets must differ")
	}
	return nil
}

// Settings converts the configured defaults into library settings.
func (l LibraryConfig) Settings() (library.Settings, error) {
	fee, err := decimal.NewFromString(l.LateFeePerDay)
	if err != nil {
		return library.Settings{}, fmt.Errorf("library.lateFeePerDay: %w", err)
	}
	s := library.Settings{
		AgeMin:           l.AgeMin,
		AgeMax:           l.AgeMax,
		ExpiredMonths:    l.ExpiredMonths,
		PublicationYears: l.PublicationYears,
		BorrowingDays:    l.BorrowingDays,
		MaxCopies:        l.MaxCopies,
		LateFeePerDay:    fee,
	}
	if err := s.Validate(); err != nil {
		return library.Settings{}, fmt.Errorf("library defaults: %w", err)
	}
	return s, nil
}
