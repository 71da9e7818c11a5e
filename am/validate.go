package am

import (
	"time"

	"github.com/chorus/jobs/errors"
)

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return errors.Newf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	// Zero disables the ticker; negative is invalid
	if c.Scheduler.TickerIntervalSeconds < 0 {
		return errors.Newf("scheduler.ticker_interval_seconds must be >= 0, got %d", c.Scheduler.TickerIntervalSeconds)
	}
	if c.Scheduler.DefaultTimeZone != "" {
		if _, err := time.LoadLocation(c.Scheduler.DefaultTimeZone); err != nil {
			return errors.WithHint(
				errors.Newf("scheduler.default_time_zone %q is not a known zone", c.Scheduler.DefaultTimeZone),
				"use an IANA zone name such as UTC or Pacific/Pago_Pago")
		}
	}

	if c.Worker.Workers < 0 {
		return errors.Newf("worker.workers must be >= 0, got %d", c.Worker.Workers)
	}
	if c.Worker.PollIntervalMS < 0 {
		return errors.Newf("worker.poll_interval_ms must be >= 0, got %d", c.Worker.PollIntervalMS)
	}
	if c.Worker.MaxRetries < 0 {
		return errors.Newf("worker.max_retries must be >= 0, got %d", c.Worker.MaxRetries)
	}

	switch c.Dispatch.Backend {
	case "", BackendQueue:
		// Queued keys are only freed by a local worker starting the job
		if c.Worker.Workers == 0 {
			return errors.WithHint(
				errors.New("worker.workers must be >= 1 when dispatch.backend = \"queue\""),
				"use dispatch.backend = \"kafka\" to run jobs outside this process")
		}
	case BackendKafka:
		if c.Dispatch.Kafka.Brokers == "" {
			return errors.New("dispatch.kafka.brokers cannot be empty when dispatch.backend = \"kafka\"")
		}
		if c.Dispatch.Kafka.Topic == "" {
			return errors.New("dispatch.kafka.topic cannot be empty when dispatch.backend = \"kafka\"")
		}
	default:
		return errors.Newf("dispatch.backend must be %q or %q, got %q", BackendQueue, BackendKafka, c.Dispatch.Backend)
	}

	// Zero means unlimited
	if c.Dispatch.RatePerSecond < 0 {
		return errors.Newf("dispatch.rate_per_second must be >= 0, got %f", c.Dispatch.RatePerSecond)
	}
	if c.Dispatch.RatePerSecond > 0 && c.Dispatch.Burst <= 0 {
		return errors.Newf("dispatch.burst must be > 0 when rate limiting is enabled, got %d", c.Dispatch.Burst)
	}

	return nil
}
