package config

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/rickgao/exaroton/internal/protocol"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.API.Token == "" && c.API.TokenFile == "" {
		return errors.New("api.token or api.token_file is required")
	}
	if c.API.MaxRetries < 0 {
		return errors.New("api.max_retries must be >= 0")
	}

	if len(c.Servers) == 0 {
		return errors.New("servers must list at least one server id")
	}
	seen := make(map[string]struct{}, len(c.Servers))
	for i, id := range c.Servers {
		if id == "" {
			return fmt.Errorf("servers[%d] is empty", i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("servers[%d] duplicates %q", i, id)
		}
		seen[id] = struct{}{}
	}

	for i, name := range c.Streams.Channels {
		if _, ok := protocol.ParseChannel(name); !ok {
			return fmt.Errorf("streams.channels[%d]: unknown channel %q", i, name)
		}
	}
	if c.Streams.ConsoleTail < 0 {
		return errors.New("streams.console_tail must be >= 0")
	}

	if c.Connection.ListenerBuffer < 1 {
		return errors.New("connection.listener_buffer must be >= 1")
	}
	if c.Connection.OpenConcurrency < 1 {
		return errors.New("connection.open_concurrency must be >= 1")
	}
	if c.Connection.PingTimeout > 0 && c.Connection.PingTimeout < c.Connection.PingInterval {
		return fmt.Errorf("connection.ping_timeout (%s) cannot be shorter than ping_interval (%s)",
			c.Connection.PingTimeout, c.Connection.PingInterval)
	}

	if err := c.Reconnect.validate("reconnect"); err != nil {
		return err
	}

	if c.Governor.Rate < 0 {
		return errors.New("governor.rate must be >= 0")
	}
	if c.Governor.Burst < 1 {
		return errors.New("governor.burst must be >= 1")
	}
	if c.Governor.QueueSize < 1 {
		return errors.New("governor.queue_size must be >= 1")
	}

	if c.Recorder.Enabled {
		if err := c.Database.validate("database"); err != nil {
			return err
		}
		if c.Recorder.BatchSize < 1 {
			return errors.New("recorder.batch_size must be >= 1")
		}
	}

	if c.Poller.Concurrency < 1 {
		return errors.New("poller.concurrency must be >= 1")
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	return nil
}

func (r *ReconnectConfig) validate(prefix string) error {
	if r.MaxAttempts < 0 {
		return fmt.Errorf("%s.max_attempts must be >= 0", prefix)
	}
	for i, d := range r.Schedule {
		if d < 0 {
			return fmt.Errorf("%s.schedule[%d] must not be negative", prefix, i)
		}
	}
	if len(r.Schedule) > 0 {
		return nil
	}
	if r.Factor < 1 {
		return fmt.Errorf("%s.factor must be >= 1", prefix)
	}
	if r.Jitter < 0 || r.Jitter > 1 {
		return fmt.Errorf("%s.jitter must be between 0 and 1", prefix)
	}
	if r.MaxDelay < r.BaseDelay {
		return fmt.Errorf("%s.max_delay (%s) cannot be shorter than base_delay (%s)", prefix, r.MaxDelay, r.BaseDelay)
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}

// ParseLevel converts a log level name to a slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	switch name {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown level %q", name)
}
