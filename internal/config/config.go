// Copyright (c) 2026 AuthForge Contributors
//
// This file is part of go-passkey.
//
// go-passkey is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

// Package config loads and validates the passkeyd server configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config represents the complete server configuration
type Config struct {
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Logging      LoggingConfig      `yaml:"logging" mapstructure:"logging"`
	TLS          TLSConfig          `yaml:"tls" mapstructure:"tls"`
	RelyingParty RelyingPartyConfig `yaml:"relying_party" mapstructure:"relying_party"`
	Storage      StorageConfig      `yaml:"storage" mapstructure:"storage"`
	Metrics      MetricsConfig      `yaml:"metrics" mapstructure:"metrics"`
	RateLimit    RateLimitConfig    `yaml:"ratelimit" mapstructure:"ratelimit"`
	Token        TokenConfig        `yaml:"token" mapstructure:"token"`
}

// ServerConfig contains server-level settings
type ServerConfig struct {
	Host string `yaml:"host" mapstructure:"host"`
	Port int    `yaml:"port" mapstructure:"port"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// TLSConfig controls TLS settings for the HTTP listener
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	CertFile string `yaml:"cert_file" mapstructure:"cert_file"`
	KeyFile  string `yaml:"key_file" mapstructure:"key_file"`
}

// RelyingPartyConfig contains the WebAuthn relying-party settings
type RelyingPartyConfig struct {
	ID          string        `yaml:"id" mapstructure:"id"`
	DisplayName string        `yaml:"display_name" mapstructure:"display_name"`
	Origins     []string      `yaml:"origins" mapstructure:"origins"`
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`
	SessionTTL  time.Duration `yaml:"session_ttl" mapstructure:"session_ttl"`

	// UserVerification is discouraged, preferred, or required.
	UserVerification string `yaml:"user_verification" mapstructure:"user_verification"`

	// Attestation is none, indirect, or direct.
	Attestation string `yaml:"attestation" mapstructure:"attestation"`

	// ResidentKey is discouraged, preferred, or required.
	ResidentKey string `yaml:"resident_key" mapstructure:"resident_key"`

	// RedirectURL is returned to the front-end after a verified ceremony.
	RedirectURL string `yaml:"redirect_url" mapstructure:"redirect_url"`
}

// StorageConfig selects the persistence backends
type StorageConfig struct {
	// Sessions is memory or redis.
	Sessions string `yaml:"sessions" mapstructure:"sessions"`

	// Database is memory or sqlite.
	Database string `yaml:"database" mapstructure:"database"`

	// Path is the SQLite database file.
	Path string `yaml:"path" mapstructure:"path"`

	// Redis holds connection settings for the redis session store.
	Redis RedisConfig `yaml:"redis" mapstructure:"redis"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
}

// MetricsConfig controls the Prometheus metrics endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// RateLimitConfig controls per-client rate limiting
type RateLimitConfig struct {
	Enabled        bool `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerMin int  `yaml:"requests_per_min" mapstructure:"requests_per_min"`
	Burst          int  `yaml:"burst" mapstructure:"burst"`
}

// TokenConfig controls post-ceremony JWT issuance
type TokenConfig struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	KeyFile   string        `yaml:"key_file" mapstructure:"key_file"`
	KeyID     string        `yaml:"key_id" mapstructure:"key_id"`
	Issuer    string        `yaml:"issuer" mapstructure:"issuer"`
	Audience  string        `yaml:"audience" mapstructure:"audience"`
	ExpiresIn time.Duration `yaml:"expires_in" mapstructure:"expires_in"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		RelyingParty: RelyingPartyConfig{
			ID:          "localhost",
			DisplayName: "go-passkey",
			Origins:     []string{"http://localhost:8080"},
		},
		Storage: StorageConfig{
			Sessions: "memory",
			Database: "memory",
			Path:     "passkey.db",
			Redis: RedisConfig{
				Addr: "localhost:6379",
			},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load reads configuration from a YAML file and applies PASSKEY_* environment
// variable overrides. An empty path loads defaults plus the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PASSKEY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := Default()
	v.SetDefault("server.host", defaults.Server.Host)
	v.SetDefault("server.port", defaults.Server.Port)
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.format", defaults.Logging.Format)
	v.SetDefault("relying_party.id", defaults.RelyingParty.ID)
	v.SetDefault("relying_party.display_name", defaults.RelyingParty.DisplayName)
	v.SetDefault("relying_party.origins", defaults.RelyingParty.Origins)
	v.SetDefault("storage.sessions", defaults.Storage.Sessions)
	v.SetDefault("storage.database", defaults.Storage.Database)
	v.SetDefault("storage.path", defaults.Storage.Path)
	v.SetDefault("storage.redis.addr", defaults.Storage.Redis.Addr)
	v.SetDefault("metrics.enabled", defaults.Metrics.Enabled)
	v.SetDefault("metrics.path", defaults.Metrics.Path)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// WriteDefault writes a commented default configuration file.
func WriteDefault(path string) error {
	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("failed to marshal default config: %w", err)
	}
	header := []byte("# passkeyd configuration\n# Values can be overridden with PASSKEY_* environment variables.\n")
	// #nosec G306 - Config files are not secrets
	if err := os.WriteFile(path, append(header, data...), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validFormats := map[string]bool{
		"json": true, "text": true,
	}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Logging.Format)
	}

	if c.TLS.Enabled {
		if c.TLS.CertFile == "" {
			return fmt.Errorf("TLS cert_file is required when TLS is enabled")
		}
		if c.TLS.KeyFile == "" {
			return fmt.Errorf("TLS key_file is required when TLS is enabled")
		}
	}

	if c.RelyingParty.ID == "" {
		return fmt.Errorf("relying party ID must be specified")
	}
	if len(c.RelyingParty.Origins) == 0 {
		return fmt.Errorf("at least one relying party origin must be specified")
	}

	switch c.Storage.Sessions {
	case "memory":
	case "redis":
		if c.Storage.Redis.Addr == "" {
			return fmt.Errorf("redis addr is required for the redis session store")
		}
	default:
		return fmt.Errorf("invalid session store: %s (must be memory or redis)", c.Storage.Sessions)
	}

	switch c.Storage.Database {
	case "memory":
	case "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage path is required for the sqlite database")
		}
	default:
		return fmt.Errorf("invalid database backend: %s (must be memory or sqlite)", c.Storage.Database)
	}

	if c.RateLimit.Enabled && c.RateLimit.RequestsPerMin < 1 {
		return fmt.Errorf("ratelimit requests_per_min must be positive when enabled")
	}

	if c.Token.Enabled && c.Token.KeyFile == "" {
		return fmt.Errorf("token key_file is required when token issuance is enabled")
	}

	return nil
}

// DebugLogging reports whether debug-level logging is requested.
func (c *Config) DebugLogging() bool {
	return strings.EqualFold(c.Logging.Level, "debug")
}

// JSONLogging reports whether JSON log output is requested.
func (c *Config) JSONLogging() bool {
	return strings.EqualFold(c.Logging.Format, "json")
}
