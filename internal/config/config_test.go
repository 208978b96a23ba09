package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yaml := `
api:
  rest_url: https://api.example.test/v1
  token: abc
servers:
  - tgkm731xO7GiHt76
  - Bx9rGm2mkq0fdJuN
streams:
  channels: [status, console]
  console_tail: 10
reconnect:
  schedule: [1s, 2s, 4s]
  max_attempts: 3
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.API.RestURL != "https://api.example.test/v1" {
		t.Errorf("API.RestURL = %q, want %q", cfg.API.RestURL, "https://api.example.test/v1")
	}
	if len(cfg.Servers) != 2 || cfg.Servers[1] != "Bx9rGm2mkq0fdJuN" {
		t.Errorf("Servers = %v", cfg.Servers)
	}
	if cfg.Streams.ConsoleTail != 10 {
		t.Errorf("Streams.ConsoleTail = %d, want 10", cfg.Streams.ConsoleTail)
	}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	if len(cfg.Reconnect.Schedule) != len(want) {
		t.Fatalf("Reconnect.Schedule = %v, want %v", cfg.Reconnect.Schedule, want)
	}
	for i := range want {
		if cfg.Reconnect.Schedule[i] != want[i] {
			t.Errorf("Reconnect.Schedule[%d] = %v, want %v", i, cfg.Reconnect.Schedule[i], want[i])
		}
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_EXAROTON_TOKEN", "secret123")

	yaml := `
api:
  token: ${TEST_EXAROTON_TOKEN}
servers: [srv1]
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.API.Token != "secret123" {
		t.Errorf("API.Token = %q, want %q", cfg.API.Token, "secret123")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load of missing file should fail")
	}
}

func TestParseInvalidYAML(t *testing.T) {
	if _, err := Parse([]byte("servers: [unclosed")); err == nil {
		t.Error("Parse of invalid yaml should fail")
	}
	if _, err := Parse([]byte("reconect:\n  max_attempts: 3\n")); err == nil {
		t.Error("Parse should reject unknown keys")
	}
	if cfg, err := Parse(nil); err != nil || len(cfg.Servers) != 0 {
		t.Errorf("Parse(empty) = %+v, %v; want empty config", cfg, err)
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
api:
  token: abc
servers: [srv1]
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.API.WSURL != DefaultWSURL {
		t.Errorf("API.WSURL = %q, want default %q", cfg.API.WSURL, DefaultWSURL)
	}
	if cfg.API.Timeout != DefaultAPITimeout {
		t.Errorf("API.Timeout = %v, want default %v", cfg.API.Timeout, DefaultAPITimeout)
	}
	if len(cfg.Streams.Channels) != 1 || cfg.Streams.Channels[0] != "status" {
		t.Errorf("Streams.Channels = %v, want [status]", cfg.Streams.Channels)
	}
	if cfg.Reconnect.BaseDelay != DefaultReconnectBase {
		t.Errorf("Reconnect.BaseDelay = %v, want default %v", cfg.Reconnect.BaseDelay, DefaultReconnectBase)
	}
	if cfg.Governor.QueueSize != DefaultGovernorQueue {
		t.Errorf("Governor.QueueSize = %d, want default %d", cfg.Governor.QueueSize, DefaultGovernorQueue)
	}
	if cfg.Database.Port != DefaultDBPort {
		t.Errorf("Database.Port = %d, want default %d", cfg.Database.Port, DefaultDBPort)
	}
	if cfg.Metrics.Port != DefaultMetricsPort {
		t.Errorf("Metrics.Port = %d, want default %d", cfg.Metrics.Port, DefaultMetricsPort)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestDefaultsKeepExplicitSchedule(t *testing.T) {
	cfg := Config{Reconnect: ReconnectConfig{Schedule: []time.Duration{time.Second}}}
	cfg.applyDefaults()

	if cfg.Reconnect.BaseDelay != 0 || cfg.Reconnect.Jitter != 0 {
		t.Errorf("Reconnect = %+v, want no backoff defaults with a schedule", cfg.Reconnect)
	}
}

func TestLoadAndValidate(t *testing.T) {
	path := writeTempFile(t, "servers: [srv1]\n")

	_, err := LoadAndValidate(path)
	if err == nil {
		t.Fatal("LoadAndValidate should fail without a token")
	}
	if got, want := err.Error(), "validate config: api.token or api.token_file is required"; got != want {
		t.Errorf("error = %q, want %q", got, want)
	}
}

func validConfig() Config {
	cfg := Config{
		API:     APIConfig{Token: "abc"},
		Servers: []string{"srv1"},
	}
	cfg.applyDefaults()
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "valid config",
			mutate:  func(*Config) {},
			wantErr: "",
		},
		{
			name:    "token file instead of token",
			mutate:  func(c *Config) { c.API.Token = ""; c.API.TokenFile = "/run/secrets/token" },
			wantErr: "",
		},
		{
			name:    "missing token",
			mutate:  func(c *Config) { c.API.Token = "" },
			wantErr: "api.token or api.token_file is required",
		},
		{
			name:    "no servers",
			mutate:  func(c *Config) { c.Servers = nil },
			wantErr: "servers must list at least one server id",
		},
		{
			name:    "empty server id",
			mutate:  func(c *Config) { c.Servers = []string{"a", ""} },
			wantErr: "servers[1] is empty",
		},
		{
			name:    "duplicate server id",
			mutate:  func(c *Config) { c.Servers = []string{"a", "a"} },
			wantErr: `servers[1] duplicates "a"`,
		},
		{
			name:    "unknown channel",
			mutate:  func(c *Config) { c.Streams.Channels = []string{"status", "chat"} },
			wantErr: `streams.channels[1]: unknown channel "chat"`,
		},
		{
			name:    "ping timeout shorter than interval",
			mutate:  func(c *Config) { c.Connection.PingTimeout = time.Second },
			wantErr: "connection.ping_timeout (1s) cannot be shorter than ping_interval (30s)",
		},
		{
			name:    "reconnect factor below one",
			mutate:  func(c *Config) { c.Reconnect.Factor = 0.5 },
			wantErr: "reconnect.factor must be >= 1",
		},
		{
			name:    "reconnect jitter out of range",
			mutate:  func(c *Config) { c.Reconnect.Jitter = 1.5 },
			wantErr: "reconnect.jitter must be between 0 and 1",
		},
		{
			name:    "negative schedule entry",
			mutate:  func(c *Config) { c.Reconnect.Schedule = []time.Duration{time.Second, -time.Second} },
			wantErr: "reconnect.schedule[1] must not be negative",
		},
		{
			name:    "negative rate",
			mutate:  func(c *Config) { c.Governor.Rate = -1 },
			wantErr: "governor.rate must be >= 0",
		},
		{
			name:    "recorder without database",
			mutate:  func(c *Config) { c.Recorder.Enabled = true },
			wantErr: "database.host is required",
		},
		{
			name: "min_conns exceeds max_conns",
			mutate: func(c *Config) {
				c.Recorder.Enabled = true
				c.Database = DBConfig{Host: "localhost", Name: "db", User: "user", Password: "pass", MaxConns: 5, MinConns: 10}
			},
			wantErr: "database.min_conns (10) cannot exceed max_conns (5)",
		},
		{
			name:    "metrics port out of range",
			mutate:  func(c *Config) { c.Metrics.Port = 70000 },
			wantErr: "metrics.port must be between 1 and 65535, got 70000",
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.Log.Level = "trace" },
			wantErr: `log.level: unknown level "trace"`,
		},
		{
			name:    "unknown log format",
			mutate:  func(c *Config) { c.Log.Format = "xml" },
			wantErr: `log.format must be text or json, got "xml"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErr)
				} else if err.Error() != tt.wantErr {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.name)
		if err != nil || got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, %v, want %v", tt.name, got, err, tt.want)
		}
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
