// Package config loads layered configuration for the reward engine: baked-in
// defaults, an optional JSON/YAML file, then environment variable overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration tree for the reward engine process.
type Config struct {
	Server   ServerConfig   `json:"server" yaml:"server"`
	Database DatabaseConfig `json:"database" yaml:"database"`
	Logging  LoggingConfig  `json:"logging" yaml:"logging"`
	Security SecurityConfig `json:"security" yaml:"security"`
	Auth     AuthConfig     `json:"auth" yaml:"auth"`
	Engine   EngineConfig   `json:"engine" yaml:"engine"`
}

// ServerConfig controls the HTTP/WebSocket command-and-query front door.
type ServerConfig struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

// DatabaseConfig configures the ledger/journal persistence backend.
type DatabaseConfig struct {
	Driver          string `json:"driver" yaml:"driver"`
	DSN             string `json:"dsn" yaml:"dsn"`
	Host            string `json:"host" yaml:"host"`
	Port            int    `json:"port" yaml:"port"`
	User            string `json:"user" yaml:"user"`
	Password        string `json:"password" yaml:"password"`
	Name            string `json:"name" yaml:"name"`
	SSLMode         string `json:"sslmode" yaml:"sslmode"`
	MaxOpenConns    int    `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int    `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime int    `json:"conn_max_lifetime" yaml:"conn_max_lifetime"` // seconds
}

// ConnectionString renders a libpq-style connection string for lib/pq.
func (d DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level      string `json:"level" yaml:"level"`
	Format     string `json:"format" yaml:"format"`
	Output     string `json:"output" yaml:"output"`
	FilePrefix string `json:"file_prefix" yaml:"file_prefix"`
}

// SecurityConfig holds engine-wide secrets not tied to a single collaborator.
type SecurityConfig struct {
	SecretEncryptionKey string `json:"secret_encryption_key" yaml:"secret_encryption_key"`
}

// AuthConfig configures service-to-service and operator authentication.
type AuthConfig struct {
	Tokens    []string   `json:"tokens" yaml:"tokens"`
	JWTSecret string     `json:"jwt_secret" yaml:"jwt_secret"`
	Users     []AuthUser `json:"users" yaml:"users"`
}

// AuthUser is a statically configured operator account (dashboards, CLI).
type AuthUser struct {
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	Role     string `json:"role" yaml:"role"`
}

// New returns a Config populated with production-sane defaults.
func New() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		Database: DatabaseConfig{
			Driver:          "postgres",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 300,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stdout",
			FilePrefix: "service-layer",
		},
		Engine: DefaultEngineConfig(),
	}
}

// LoadFile reads a YAML (or JSON, when the extension is .json) file and
// overlays it onto the default configuration. A missing file is not an
// error: defaults are returned unchanged.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		if err := json.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse json config: %w", err)
		}
		return cfg, nil
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse yaml config: %w", err)
	}
	return cfg, nil
}

// LoadConfig reads a JSON config file unconditionally (missing/invalid files
// are errors). Used by callers that require an explicit, present file.
func LoadConfig(path string) (*Config, error) {
	cfg := New()
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDatabaseURLEnv(cfg)
	return cfg, nil
}

// Load builds the effective configuration: defaults, overlaid by the file
// named by CONFIG_FILE (if any), overlaid by a fixed set of environment
// variable overrides.
func Load() (*Config, error) {
	cfg, err := LoadFile(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v, ok := getIntEnv("SERVER_PORT"); ok {
		cfg.Server.Port = v
	}
	if v := os.Getenv("DATABASE_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	applyDatabaseURLEnv(cfg)
	applyEngineEnv(&cfg.Engine)

	return cfg, nil
}

// applyDatabaseURLEnv lets DATABASE_URL override a file-supplied DSN, the
// common convention for container platforms that inject connection strings.
func applyDatabaseURLEnv(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.DSN = v
	}
}

func getIntEnv(key string) (int, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return parsed, true
}
