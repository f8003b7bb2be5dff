package config

import "time"

// Config 主配置结构
type Config struct {
	Host             HostConfig        `yaml:"host" json:"host"`
	Paths            PathsConfig       `yaml:"paths" json:"paths"`
	Database         DatabaseConfig    `yaml:"database" json:"database"`
	Cache            CacheConfig       `yaml:"cache" json:"cache"`
	PluginNamespaces map[string]string `yaml:"plugin_namespaces" json:"plugin_namespaces"`
	Denylist         []string          `yaml:"denylist" json:"denylist"`
	EventBus         EventBusConfig    `yaml:"event_bus" json:"event_bus"`
	Metrics          MetricsConfig     `yaml:"metrics" json:"metrics"`
	Logging          LoggingConfig     `yaml:"logging" json:"logging"`
}

// HostConfig describes the application hosting the plugins.
type HostConfig struct {
	Version string `yaml:"version" json:"version"`
}

// PathsConfig 目录配置
type PathsConfig struct {
	Plugins        string `yaml:"plugins" json:"plugins"`
	Public         string `yaml:"public" json:"public"`
	Lang           string `yaml:"lang" json:"lang"`
	Manifest       string `yaml:"manifest" json:"manifest"`
	CoreMigrations string `yaml:"core_migrations" json:"core_migrations"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver string `yaml:"driver" json:"driver"`
	DSN    string `yaml:"dsn" json:"dsn"`
}

// CacheConfig controls the enabled-set cache.
type CacheConfig struct {
	Enabled *bool         `yaml:"enabled" json:"enabled"`
	TTL     time.Duration `yaml:"ttl" json:"ttl"`
}

// IsEnabled defaults to true when unset.
func (c CacheConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

type EventBusConfig struct {
	BufferSize int `yaml:"buffer_size" json:"buffer_size"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Address string `yaml:"address" json:"address"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
}
