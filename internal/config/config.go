package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds every runtime setting of the AuthHub binaries.
type Config struct {
	HTTPAddr        string        `env:"AUTHHUB_HTTP_ADDR" envDefault:":8080"`
	GRPCAddr        string        `env:"AUTHHUB_GRPC_ADDR" envDefault:":9090"`
	ShutdownTimeout time.Duration `env:"AUTHHUB_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	MaxBodyBytes    int64         `env:"AUTHHUB_MAX_BODY_BYTES" envDefault:"1048576"`

	LogLevel  string `env:"AUTHHUB_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"AUTHHUB_LOG_FORMAT" envDefault:"json"`

	PostgresDSN    string `env:"AUTHHUB_PG_DSN"`
	MigrateOnStart bool   `env:"AUTHHUB_MIGRATE_ON_START" envDefault:"false"`

	RedisAddr     string `env:"AUTHHUB_REDIS_ADDR"`
	RedisPassword string `env:"AUTHHUB_REDIS_PASSWORD"`
	RedisDB       int    `env:"AUTHHUB_REDIS_DB" envDefault:"0"`
	RedisPrefix   string `env:"AUTHHUB_REDIS_PREFIX" envDefault:"authhub"`

	JWTPrivateKey string        `env:"AUTHHUB_JWT_PRIVATE_KEY"`
	JWTPublicKey  string        `env:"AUTHHUB_JWT_PUBLIC_KEY"`
	JWTKeyID      string        `env:"AUTHHUB_JWT_KEY_ID" envDefault:"authhub-1"`
	JWTIssuer     string        `env:"AUTHHUB_JWT_ISSUER" envDefault:"authhub"`
	JWTEphemeral  bool          `env:"AUTHHUB_JWT_EPHEMERAL" envDefault:"false"`
	AccessTTL     time.Duration `env:"AUTHHUB_ACCESS_TTL" envDefault:"15m"`
	RefreshTTL    time.Duration `env:"AUTHHUB_REFRESH_TTL" envDefault:"336h"`
	StoreTimeout  time.Duration `env:"AUTHHUB_STORE_TIMEOUT" envDefault:"3s"`

	AdminRoleName  string        `env:"AUTHHUB_ADMIN_ROLE" envDefault:"TENANT_ADMIN"`
	IdempotencyTTL time.Duration `env:"AUTHHUB_IDEMPOTENCY_TTL" envDefault:"24h"`

	EndpointSeedFile string `env:"AUTHHUB_ENDPOINT_SEED_FILE"`

	// Optional operator account holding the admin role, created at startup
	// when the email is not registered yet.
	BootstrapEmail    string `env:"AUTHHUB_BOOTSTRAP_EMAIL"`
	BootstrapPassword string `env:"AUTHHUB_BOOTSTRAP_PASSWORD"`

	HealthInterval time.Duration `env:"AUTHHUB_HEALTH_INTERVAL" envDefault:"5s"`
}

// ParseEnv loads configuration from environment variables into target.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.HTTPAddr) == "" {
		errs = append(errs, errors.New("AUTHHUB_HTTP_ADDR is required"))
	}
	if c.AccessTTL <= 0 {
		errs = append(errs, errors.New("AUTHHUB_ACCESS_TTL must be positive"))
	}
	if c.RefreshTTL <= c.AccessTTL {
		errs = append(errs, errors.New("AUTHHUB_REFRESH_TTL must exceed AUTHHUB_ACCESS_TTL"))
	}
	if c.StoreTimeout <= 0 {
		errs = append(errs, errors.New("AUTHHUB_STORE_TIMEOUT must be positive"))
	}
	if c.IdempotencyTTL <= 0 {
		errs = append(errs, errors.New("AUTHHUB_IDEMPOTENCY_TTL must be positive"))
	}
	if (c.JWTPrivateKey == "") != (c.JWTPublicKey == "") {
		errs = append(errs, errors.New("AUTHHUB_JWT_PRIVATE_KEY and AUTHHUB_JWT_PUBLIC_KEY must be set together"))
	}
	if (c.BootstrapEmail == "") != (c.BootstrapPassword == "") {
		errs = append(errs, errors.New("AUTHHUB_BOOTSTRAP_EMAIL and AUTHHUB_BOOTSTRAP_PASSWORD must be set together"))
	}
	if c.HealthInterval <= 0 {
		errs = append(errs, errors.New("AUTHHUB_HEALTH_INTERVAL must be positive"))
	}
	if strings.TrimSpace(c.AdminRoleName) == "" {
		errs = append(errs, errors.New("AUTHHUB_ADMIN_ROLE is required"))
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("AUTHHUB_LOG_FORMAT %q is not one of json, console", c.LogFormat))
	}
	return errors.Join(errs...)
}

// HasSigningKeys reports whether a PEM key pair was supplied.
func (c Config) HasSigningKeys() bool {
	return c.JWTPrivateKey != "" && c.JWTPublicKey != ""
}
