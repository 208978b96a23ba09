package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultRestURL          = "https://api.exaroton.com/v1"
	DefaultWSURL            = "wss://api.exaroton.com/v1"
	DefaultAPITimeout       = 30 * time.Second
	DefaultMaxRetries       = 3
	DefaultConsoleTail      = 0
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultPingInterval     = 30 * time.Second
	DefaultPingTimeout      = 90 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
	DefaultRequestTimeout   = 10 * time.Second
	DefaultListenerBuffer   = 1000
	DefaultOpenConcurrency  = 8
	DefaultReconnectBase    = 1 * time.Second
	DefaultReconnectMax     = 60 * time.Second
	DefaultReconnectFactor  = 2.0
	DefaultReconnectJitter  = 0.2
	DefaultGovernorRate     = 10.0
	DefaultGovernorBurst    = 5
	DefaultGovernorQueue    = 100
	DefaultDBPort           = 5432
	DefaultDBSSLMode        = "prefer"
	DefaultMaxConns         = 10
	DefaultMinConns         = 2
	DefaultBatchSize        = 500
	DefaultFlushInterval    = 1 * time.Second
	DefaultPollInterval     = 1 * time.Minute
	DefaultPollConcurrency  = 4
	DefaultMetricsPort      = 9090
	DefaultMetricsPath      = "/metrics"
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "text"
)

// DefaultChannels are subscribed when streams.channels is empty.
var DefaultChannels = []string{"status"}

func (c *Config) applyDefaults() {
	// API defaults
	if c.API.RestURL == "" {
		c.API.RestURL = DefaultRestURL
	}
	if c.API.WSURL == "" {
		c.API.WSURL = DefaultWSURL
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}

	// Streams defaults
	if len(c.Streams.Channels) == 0 {
		c.Streams.Channels = append([]string(nil), DefaultChannels...)
	}

	// Connection defaults
	if c.Connection.HandshakeTimeout == 0 {
		c.Connection.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Connection.PingInterval == 0 {
		c.Connection.PingInterval = DefaultPingInterval
	}
	if c.Connection.PingTimeout == 0 {
		c.Connection.PingTimeout = DefaultPingTimeout
	}
	if c.Connection.WriteTimeout == 0 {
		c.Connection.WriteTimeout = DefaultWriteTimeout
	}
	if c.Connection.RequestTimeout == 0 {
		c.Connection.RequestTimeout = DefaultRequestTimeout
	}
	if c.Connection.ListenerBuffer == 0 {
		c.Connection.ListenerBuffer = DefaultListenerBuffer
	}
	if c.Connection.OpenConcurrency == 0 {
		c.Connection.OpenConcurrency = DefaultOpenConcurrency
	}

	// Reconnect defaults; an explicit schedule needs none of them.
	if len(c.Reconnect.Schedule) == 0 {
		if c.Reconnect.BaseDelay == 0 {
			c.Reconnect.BaseDelay = DefaultReconnectBase
		}
		if c.Reconnect.MaxDelay == 0 {
			c.Reconnect.MaxDelay = DefaultReconnectMax
		}
		if c.Reconnect.Factor == 0 {
			c.Reconnect.Factor = DefaultReconnectFactor
		}
		if c.Reconnect.Jitter == 0 {
			c.Reconnect.Jitter = DefaultReconnectJitter
		}
	}

	// Governor defaults
	if c.Governor.Rate == 0 {
		c.Governor.Rate = DefaultGovernorRate
	}
	if c.Governor.Burst == 0 {
		c.Governor.Burst = DefaultGovernorBurst
	}
	if c.Governor.QueueSize == 0 {
		c.Governor.QueueSize = DefaultGovernorQueue
	}

	// Database defaults
	if c.Database.Port == 0 {
		c.Database.Port = DefaultDBPort
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = DefaultDBSSLMode
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = DefaultMaxConns
	}
	if c.Database.MinConns == 0 {
		c.Database.MinConns = DefaultMinConns
	}

	// Recorder defaults
	if c.Recorder.BatchSize == 0 {
		c.Recorder.BatchSize = DefaultBatchSize
	}
	if c.Recorder.FlushInterval == 0 {
		c.Recorder.FlushInterval = DefaultFlushInterval
	}

	// Poller defaults
	if c.Poller.Interval == 0 {
		c.Poller.Interval = DefaultPollInterval
	}
	if c.Poller.Concurrency == 0 {
		c.Poller.Concurrency = DefaultPollConcurrency
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}
