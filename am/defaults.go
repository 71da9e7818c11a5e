package am

import (
	"fmt"

	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", DefaultDatabasePath)

	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.allowed_origins", []string{
		"http://localhost",
		"http://127.0.0.1",
	})

	v.SetDefault("scheduler.ticker_interval_seconds", 30)
	v.SetDefault("scheduler.default_time_zone", DefaultTimeZone)

	v.SetDefault("worker.workers", 2)
	v.SetDefault("worker.poll_interval_ms", 1000)
	v.SetDefault("worker.max_retries", 2)
	v.SetDefault("worker.retention_hours", 24*7)

	v.SetDefault("dispatch.backend", BackendQueue)
	v.SetDefault("dispatch.rate_per_second", 0.0)
	v.SetDefault("dispatch.burst", 10)
	v.SetDefault("dispatch.kafka.topic", "chorus.jobs")
	v.SetDefault("dispatch.kafka.delivery_timeout_seconds", 10)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
}

// BindSensitiveEnvVars explicitly binds deployment-specific settings to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	_ = v.BindEnv("database.path", "CHORUS_DATABASE_PATH")
	_ = v.BindEnv("dispatch.kafka.brokers", "CHORUS_KAFKA_BROKERS")
}

// GetDatabasePath returns the configured database path
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return DefaultDatabasePath
	}
	return c.Database.Path
}

// GetServerPort returns the configured port, falling back to the default
func (c *Config) GetServerPort() int {
	if c.Server.Port <= 0 {
		return DefaultServerPort
	}
	return c.Server.Port
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf("Config{Database: %s, Dispatch: %s, Worker: {Workers: %d}, Ticker: %ds}",
		c.Database.Path, c.Dispatch.Backend, c.Worker.Workers, c.Scheduler.TickerIntervalSeconds)
}
