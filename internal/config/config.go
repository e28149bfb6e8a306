package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Store drivers accepted in STORE_DRIVER.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Port             string   `mapstructure:"PORT"`
	Env              string   `mapstructure:"ENV"`
	StoreDriver      string   `mapstructure:"STORE_DRIVER"`
	DatabaseURL      string   `mapstructure:"DATABASE_URL"`
	SQLitePath       string   `mapstructure:"SQLITE_PATH"`
	DBMaxConns       int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns       int32    `mapstructure:"DB_MIN_CONNS"`
	DefaultTenant    string   `mapstructure:"DEFAULT_TENANT"`
	AuthIssuer       string   `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL      string   `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience     string   `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey   string   `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins      []string `mapstructure:"CORS_ORIGINS"`
	RedisURL         string   `mapstructure:"REDIS_URL"`
	NotifyChannel    string   `mapstructure:"NOTIFY_CHANNEL"`
	AdmissionCharge  float64  `mapstructure:"ADMISSION_CHARGE"`
	AdmitHorizonDays int      `mapstructure:"ADMIT_HORIZON_DAYS"`
	OTLPEndpoint     string   `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure     bool     `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
}

var envKeys = []string{
	"PORT", "ENV", "STORE_DRIVER", "DATABASE_URL", "SQLITE_PATH",
	"DB_MAX_CONNS", "DB_MIN_CONNS", "DEFAULT_TENANT",
	"AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
	"CORS_ORIGINS", "REDIS_URL", "NOTIFY_CHANNEL",
	"ADMISSION_CHARGE", "ADMIT_HORIZON_DAYS",
	"OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_INSECURE",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("STORE_DRIVER", DriverPostgres)
	v.SetDefault("SQLITE_PATH", "medisphere.db")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DEFAULT_TENANT", "default")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("NOTIFY_CHANNEL", "ward:events")
	v.SetDefault("ADMISSION_CHARGE", 500.0)
	v.SetDefault("ADMIT_HORIZON_DAYS", 7)

	// Unmarshal only sees keys viper knows about.
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))

	if cfg.StoreDriver == DriverPostgres && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is %q", DriverPostgres)
	}

	if cfg.IsDev() {
		log.Warn().Msg("running in development mode: requests without a bearer token are treated as admin")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// AdmitHorizon is the estimated length of stay recorded on admission.
func (c *Config) AdmitHorizon() time.Duration {
	return time.Duration(c.AdmitHorizonDays) * 24 * time.Hour
}

// Validate checks that the configuration is safe to run. Outside development
// either a signing key or an issuer must be configured so bearer tokens are
// actually verified.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverPostgres, DriverMemory, DriverSQLite:
	default:
		return fmt.Errorf("STORE_DRIVER must be %q, %q or %q, got %q",
			DriverPostgres, DriverMemory, DriverSQLite, c.StoreDriver)
	}
	if c.StoreDriver == DriverSQLite && c.SQLitePath == "" {
		return fmt.Errorf("SQLITE_PATH is required when STORE_DRIVER is %q", DriverSQLite)
	}
	if !c.IsDev() && c.AuthSigningKey == "" && c.AuthIssuer == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY or AUTH_ISSUER must be set when ENV=%q", c.Env)
	}
	if c.AdmitHorizonDays <= 0 {
		return fmt.Errorf("ADMIT_HORIZON_DAYS must be positive, got %d", c.AdmitHorizonDays)
	}
	if c.AdmissionCharge < 0 {
		return fmt.Errorf("ADMISSION_CHARGE must not be negative, got %.2f", c.AdmissionCharge)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}
