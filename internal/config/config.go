// Package config loads runtime configuration from the environment, with an
// optional YAML overlay for settings that are awkward as env vars.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Sweeper   SweeperConfig   `yaml:"sweeper"`
	Audit     AuditConfig     `yaml:"audit"`
}

type ServerConfig struct {
	Host string `yaml:"host" env:"SERVER_HOST,default=0.0.0.0"`
	Port int    `yaml:"port" env:"SERVER_PORT,default=8080"`
}

// DatabaseConfig selects the vault store backend. An empty DSN keeps the
// in-memory store.
type DatabaseConfig struct {
	DSN             string `yaml:"dsn" env:"DATABASE_URL"`
	MaxOpenConns    int    `yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS,default=10"`
	MaxIdleConns    int    `yaml:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS,default=5"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_seconds" env:"DATABASE_CONN_MAX_LIFETIME,default=300"`
}

type LoggingConfig struct {
	Level      string `yaml:"level" env:"LOG_LEVEL,default=info"`
	Format     string `yaml:"format" env:"LOG_FORMAT,default=json"`
	Output     string `yaml:"output" env:"LOG_OUTPUT,default=stdout"`
	FilePrefix string `yaml:"file_prefix" env:"LOG_FILE_PREFIX"`
}

// AuthConfig holds the static bearer tokens accepted by the API,
// comma-separated. An empty value disables auth.
type AuthConfig struct {
	Tokens string `yaml:"tokens" env:"AUTH_TOKENS"`
}

// TokenList splits the configured tokens, dropping empty entries.
func (c AuthConfig) TokenList() []string {
	parts := strings.Split(c.Tokens, ",")
	tokens := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			tokens = append(tokens, trimmed)
		}
	}
	return tokens
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second" env:"RATE_LIMIT_RPS,default=0"`
	Burst             int `yaml:"burst" env:"RATE_LIMIT_BURST,default=0"`
}

type SweeperConfig struct {
	Interval time.Duration `yaml:"interval" env:"SWEEP_INTERVAL,default=30s"`
}

type AuditConfig struct {
	FilePath   string `yaml:"file_path" env:"AUDIT_FILE"`
	MaxEntries int    `yaml:"max_entries" env:"AUDIT_MAX_ENTRIES,default=200"`
}

// Load reads configuration from a .env file when present, the process
// environment, and finally a YAML file named by CONFIG_FILE. Later sources
// override earlier ones.
func Load() (*Config, error) {
	// Missing .env is fine; env vars may come from the environment proper.
	_ = godotenv.Load()

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return nil, fmt.Errorf("invalid server port %d", cfg.Server.Port)
	}
	return &cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}
