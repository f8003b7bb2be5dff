package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-sql-driver/mysql"
	"gopkg.in/yaml.v3"
)

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"

	DefaultCacheTTL       = 30 * time.Minute
	DefaultHostVersion    = "1.0.0"
	DefaultEventBufSize   = 100
	DefaultMetricsAddress = ":9464"
)

// LoadConfig reads a YAML file, applies defaults and environment overrides, and validates the result.
func LoadConfig(configPath string) (*Config, error) {
	cfg := &Config{}
	if configPath == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.ApplyDefaults()
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}
	return cfg, nil
}

// Default returns a configuration rooted in the current directory, backed by a local SQLite file.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	cfg.applyEnv()
	return cfg
}

func (c *Config) ApplyDefaults() {
	if c.Host.Version == "" {
		c.Host.Version = DefaultHostVersion
	}
	if c.Paths.Plugins == "" {
		c.Paths.Plugins = "plugins"
	}
	if c.Paths.Public == "" {
		c.Paths.Public = "public"
	}
	if c.Paths.Lang == "" {
		c.Paths.Lang = "lang"
	}
	if c.Paths.Manifest == "" {
		c.Paths.Manifest = "storage/plugins.json"
	}
	if c.Paths.CoreMigrations == "" {
		c.Paths.CoreMigrations = "database/migrations"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DriverSQLite
	}
	if c.Database.DSN == "" && c.Database.Driver == DriverSQLite {
		c.Database.DSN = "storage/plugman.db"
	}
	if c.Cache.TTL <= 0 {
		c.Cache.TTL = DefaultCacheTTL
	}
	if c.EventBus.BufferSize <= 0 {
		c.EventBus.BufferSize = DefaultEventBufSize
	}
	if c.Metrics.Address == "" {
		c.Metrics.Address = DefaultMetricsAddress
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func (c *Config) applyEnv() {
	if dsn := os.Getenv("PLUGMAN_DATABASE_DSN"); dsn != "" {
		c.Database.DSN = dsn
	}
	if driver := os.Getenv("PLUGMAN_DATABASE_DRIVER"); driver != "" {
		c.Database.Driver = driver
	}
	if dir := os.Getenv("PLUGMAN_PLUGINS_DIR"); dir != "" {
		c.Paths.Plugins = dir
	}
}

// Validate rejects configurations the storage layer cannot open.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverMySQL:
		if _, err := mysql.ParseDSN(c.Database.DSN); err != nil {
			return fmt.Errorf("database.dsn: %w", err)
		}
	case DriverSQLite:
		if c.Database.DSN == "" {
			return errors.New("database.dsn is required")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.Database.Driver)
	}
	if c.Paths.Plugins == "" {
		return errors.New("paths.plugins is required")
	}
	return nil
}
