package am

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	// Isolated viper instance so user/system config does not leak in
	v := viper.New()
	SetDefaults(v)

	cfg, err := LoadWithViper(v)
	require.NoError(t, err)

	assert.Equal(t, DefaultDatabasePath, cfg.Database.Path)
	assert.Equal(t, DefaultServerPort, cfg.Server.Port)
	assert.Equal(t, 30, cfg.Scheduler.TickerIntervalSeconds)
	assert.Equal(t, DefaultTimeZone, cfg.Scheduler.DefaultTimeZone)
	assert.Equal(t, 2, cfg.Worker.Workers)
	assert.Equal(t, BackendQueue, cfg.Dispatch.Backend)
	assert.Equal(t, "chorus.jobs", cfg.Dispatch.Kafka.Topic)
	assert.Equal(t, 30*time.Second, cfg.TickerInterval())
	assert.Equal(t, time.Second, cfg.PollInterval())
	require.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "am.toml")
	content := `
[database]
path = "/var/lib/chorus/jobs.db"

[scheduler]
ticker_interval_seconds = 5
default_time_zone = "Pacific/Pago_Pago"

[dispatch]
backend = "kafka"
rate_per_second = 2.5
burst = 5

[dispatch.kafka]
brokers = "localhost:9092"
`
	require.NoError(t, os.WriteFile(path, []byte(content), DefaultFilePermissions))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/chorus/jobs.db", cfg.GetDatabasePath())
	assert.Equal(t, 5, cfg.Scheduler.TickerIntervalSeconds)
	assert.Equal(t, "Pacific/Pago_Pago", cfg.Scheduler.DefaultTimeZone)
	assert.Equal(t, BackendKafka, cfg.Dispatch.Backend)
	assert.Equal(t, 2.5, cfg.Dispatch.RatePerSecond)
	assert.Equal(t, "localhost:9092", cfg.Dispatch.Kafka.Brokers)
	// Defaults survive for keys the file leaves out
	assert.Equal(t, "chorus.jobs", cfg.Dispatch.Kafka.Topic)
	assert.Equal(t, DefaultServerPort, cfg.GetServerPort())
	require.NoError(t, cfg.Validate())
}

func TestLoadFromFile_Missing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Server:    ServerConfig{Port: 8877},
			Scheduler: SchedulerConfig{TickerIntervalSeconds: 1, DefaultTimeZone: "UTC"},
			Worker:    WorkerConfig{Workers: 1},
			Dispatch:  DispatchConfig{Backend: BackendQueue},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "zero workers with kafka is valid", mutate: func(c *Config) {
			c.Worker.Workers = 0
			c.Dispatch.Backend = BackendKafka
			c.Dispatch.Kafka.Brokers = "localhost:9092"
			c.Dispatch.Kafka.Topic = "t"
		}},
		{name: "zero workers with queue", mutate: func(c *Config) { c.Worker.Workers = 0 }, wantErr: "worker.workers"},
		{name: "zero ticker is valid (disabled)", mutate: func(c *Config) { c.Scheduler.TickerIntervalSeconds = 0 }},
		{name: "negative workers", mutate: func(c *Config) { c.Worker.Workers = -1 }, wantErr: "worker.workers"},
		{name: "negative ticker", mutate: func(c *Config) { c.Scheduler.TickerIntervalSeconds = -1 }, wantErr: "ticker_interval_seconds"},
		{name: "bad port", mutate: func(c *Config) { c.Server.Port = 70000 }, wantErr: "server.port"},
		{name: "unknown zone", mutate: func(c *Config) { c.Scheduler.DefaultTimeZone = "Mars/Olympus" }, wantErr: "default_time_zone"},
		{name: "unknown backend", mutate: func(c *Config) { c.Dispatch.Backend = "carrier-pigeon" }, wantErr: "dispatch.backend"},
		{name: "kafka without brokers", mutate: func(c *Config) {
			c.Dispatch.Backend = BackendKafka
			c.Dispatch.Kafka.Topic = "t"
		}, wantErr: "dispatch.kafka.brokers"},
		{name: "rate without burst", mutate: func(c *Config) { c.Dispatch.RatePerSecond = 1 }, wantErr: "dispatch.burst"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfigWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "am.toml")
	require.NoError(t, os.WriteFile(path, []byte("[scheduler]\nticker_interval_seconds = 10\n"), DefaultFilePermissions))

	cw, err := NewConfigWatcher(path, nil)
	require.NoError(t, err)
	cw.SetDebounce(20 * time.Millisecond)

	reloaded := make(chan *Config, 1)
	cw.OnReload(func(cfg *Config) error {
		select {
		case reloaded <- cfg:
		default:
		}
		return nil
	})
	cw.Start()
	t.Cleanup(func() { _ = cw.Stop() })

	require.NoError(t, os.WriteFile(path, []byte("[scheduler]\nticker_interval_seconds = 3\n"), DefaultFilePermissions))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, 3, cfg.Scheduler.TickerIntervalSeconds)
	case <-time.After(5 * time.Second):
		t.Fatal("config reload not observed")
	}
}
