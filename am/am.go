// Package am loads and validates the scheduler's configuration ("I am").
package am

import "time"

// Config represents the job scheduler configuration
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database" json:"database" yaml:"database" toml:"database"`
	Server    ServerConfig    `mapstructure:"server" json:"server" yaml:"server" toml:"server"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" json:"scheduler" yaml:"scheduler" toml:"scheduler"`
	Worker    WorkerConfig    `mapstructure:"worker" json:"worker" yaml:"worker" toml:"worker"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch" json:"dispatch" yaml:"dispatch" toml:"dispatch"`
	Log       LogConfig       `mapstructure:"log" json:"log" yaml:"log" toml:"log"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path" json:"path" yaml:"path" toml:"path"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Port           int      `mapstructure:"port" json:"port" yaml:"port" toml:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins" json:"allowed_origins" yaml:"allowed_origins" toml:"allowed_origins"`
}

// SchedulerConfig configures the ticker that turns due plans into dispatches
type SchedulerConfig struct {
	// 0 disables the ticker
	TickerIntervalSeconds int    `mapstructure:"ticker_interval_seconds" json:"ticker_interval_seconds" yaml:"ticker_interval_seconds" toml:"ticker_interval_seconds"`
	DefaultTimeZone       string `mapstructure:"default_time_zone" json:"default_time_zone" yaml:"default_time_zone" toml:"default_time_zone"`
}

// WorkerConfig configures the queue workers that execute dispatched jobs
type WorkerConfig struct {
	// 0 = no background workers
	Workers        int `mapstructure:"workers" json:"workers" yaml:"workers" toml:"workers"`
	PollIntervalMS int `mapstructure:"poll_interval_ms" json:"poll_interval_ms" yaml:"poll_interval_ms" toml:"poll_interval_ms"`
	MaxRetries     int `mapstructure:"max_retries" json:"max_retries" yaml:"max_retries" toml:"max_retries"`
	RetentionHours int `mapstructure:"retention_hours" json:"retention_hours" yaml:"retention_hours" toml:"retention_hours"`
}

// DispatchConfig selects and tunes the execution backend
type DispatchConfig struct {
	// "queue" or "kafka"
	Backend       string      `mapstructure:"backend" json:"backend" yaml:"backend" toml:"backend"`
	// Submissions per second; 0 = unlimited
	RatePerSecond float64     `mapstructure:"rate_per_second" json:"rate_per_second" yaml:"rate_per_second" toml:"rate_per_second"`
	Burst         int         `mapstructure:"burst" json:"burst" yaml:"burst" toml:"burst"`
	Kafka         KafkaConfig `mapstructure:"kafka" json:"kafka" yaml:"kafka" toml:"kafka"`
}

// KafkaConfig configures the Kafka execution backend
type KafkaConfig struct {
	Brokers                string `mapstructure:"brokers" json:"brokers" yaml:"brokers" toml:"brokers"`
	Topic                  string `mapstructure:"topic" json:"topic" yaml:"topic" toml:"topic"`
	DeliveryTimeoutSeconds int    `mapstructure:"delivery_timeout_seconds" json:"delivery_timeout_seconds" yaml:"delivery_timeout_seconds" toml:"delivery_timeout_seconds"`
}

// LogConfig configures structured logging
type LogConfig struct {
	Level string `mapstructure:"level" json:"level" yaml:"level" toml:"level"`
	JSON  bool   `mapstructure:"json" json:"json" yaml:"json" toml:"json"`
}

// Execution backends
const (
	BackendQueue = "queue"
	BackendKafka = "kafka"
)

// Defaults
const (
	DefaultServerPort      = 8877
	DefaultDatabasePath    = "chorus-jobs.db"
	DefaultTimeZone        = "UTC"
	DefaultDirPermissions  = 0755
	DefaultFilePermissions = 0644
)

// TickerInterval returns the configured ticker interval as a duration
func (c *Config) TickerInterval() time.Duration {
	return time.Duration(c.Scheduler.TickerIntervalSeconds) * time.Second
}

// PollInterval returns the configured worker poll interval as a duration
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Worker.PollIntervalMS) * time.Millisecond
}
