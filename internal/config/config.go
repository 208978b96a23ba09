package config

import "time"

// Config is the root configuration for an exawatch instance.
type Config struct {
	API        APIConfig        `yaml:"api"`
	Servers    []string         `yaml:"servers"`
	Streams    StreamsConfig    `yaml:"streams"`
	Connection ConnectionConfig `yaml:"connection"`
	Reconnect  ReconnectConfig  `yaml:"reconnect"`
	Governor   GovernorConfig   `yaml:"governor"`
	Database   DBConfig         `yaml:"database"`
	Recorder   RecorderConfig   `yaml:"recorder"`
	Poller     PollerConfig     `yaml:"poller"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Log        LogConfig        `yaml:"log"`
}

// APIConfig holds exaroton API settings.
type APIConfig struct {
	RestURL    string        `yaml:"rest_url"`
	WSURL      string        `yaml:"ws_url"`
	Token      string        `yaml:"token"`      // API token, usually ${EXAROTON_TOKEN}
	TokenFile  string        `yaml:"token_file"` // Used when token is empty
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// StreamsConfig selects the channels subscribed on every server.
type StreamsConfig struct {
	Channels    []string `yaml:"channels"`
	ConsoleTail int      `yaml:"console_tail"`
}

// ConnectionConfig holds WebSocket session settings.
type ConnectionConfig struct {
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	PingInterval     time.Duration `yaml:"ping_interval"`
	PingTimeout      time.Duration `yaml:"ping_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	ListenerBuffer   int           `yaml:"listener_buffer"`
	OpenConcurrency  int           `yaml:"open_concurrency"`
}

// ReconnectConfig holds reconnection backoff settings.
type ReconnectConfig struct {
	BaseDelay   time.Duration   `yaml:"base_delay"`
	MaxDelay    time.Duration   `yaml:"max_delay"`
	Factor      float64         `yaml:"factor"`
	Jitter      float64         `yaml:"jitter"`
	MaxAttempts int             `yaml:"max_attempts"` // 0 retries forever
	Schedule    []time.Duration `yaml:"schedule"`
}

// GovernorConfig holds outbound rate limit settings.
type GovernorConfig struct {
	Rate      float64 `yaml:"rate"`
	Burst     int     `yaml:"burst"`
	QueueSize int     `yaml:"queue_size"`
}

// DBConfig holds the TimescaleDB connection used by the recorder.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// RecorderConfig holds event recorder settings.
type RecorderConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// PollerConfig holds REST status poller settings.
type PollerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Interval    time.Duration `yaml:"interval"`
	Concurrency int           `yaml:"concurrency"`
}

// MetricsConfig holds the HTTP server exposing health and metrics.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}
