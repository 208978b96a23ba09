package connection

import (
	"errors"
	"fmt"
	"time"

	"github.com/rickgao/exaroton/internal/governor"
)

// Errors
var (
	ErrNotConnected       = errors.New("not connected")
	ErrStaleConnection    = errors.New("connection stale (no ping)")
	ErrAlreadyClosed      = errors.New("already closed")
	ErrConnectionLost     = errors.New("connection lost")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	ErrSessionClosed      = errors.New("session closed")
	ErrUnsubscribed       = errors.New("unsubscribed before stream started")
)

// AuthError reports a handshake the server rejected because of the token.
// It is never retried.
type AuthError struct {
	StatusCode int
	Err        error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication rejected (HTTP %d): %v", e.StatusCode, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// NetworkError reports a failed dial, read or write. It is recoverable.
type NetworkError struct {
	Op  string // "dial", "read" or "write"
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// State is the lifecycle state of a Session.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
	StateFailed
)

var stateNames = [...]string{
	StateDisconnected: "disconnected",
	StateConnecting:   "connecting",
	StateConnected:    "connected",
	StateReconnecting: "reconnecting",
	StateClosed:       "closed",
	StateFailed:       "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string        // Full WebSocket URL of one server's stream
	Token            string        // Bearer token for the Authorization header
	HandshakeTimeout time.Duration // Dial + upgrade deadline
	PingInterval     time.Duration // How often to ping the server
	PingTimeout      time.Duration // Max time without ping/pong/message before considering connection stale
	WriteTimeout     time.Duration // Write deadline for sends
	BufferSize       int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     30 * time.Second,
		PingTimeout:      90 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       256,
	}
}

// ReconnectConfig configures the reconnection backoff.
type ReconnectConfig struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Factor      float64
	Jitter      float64         // Fraction of the delay, 0 disables jitter
	MaxAttempts int             // 0 retries forever
	Schedule    []time.Duration // Explicit delays; overrides Base/Factor/Max
}

// DefaultReconnectConfig returns sensible defaults.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		BaseDelay: 1 * time.Second,
		MaxDelay:  60 * time.Second,
		Factor:    2,
		Jitter:    0.2,
	}
}

// SessionConfig configures a Session.
type SessionConfig struct {
	ServerID           string
	BaseURL            string // e.g. wss://api.exaroton.com/v1
	Token              string
	Client             ClientConfig // URL and Token are filled in by the session
	Reconnect          ReconnectConfig
	Governor           governor.Config
	RequestTimeout     time.Duration // Default timeout for Request
	ListenerBuffer     int           // Per-listener inbound buffer bound
	NotificationBuffer int           // Notifications channel capacity
	ConsoleTail        int           // Lines replayed when the console stream starts
	CloseTimeout       time.Duration // Bound on Close waiting for goroutines
}

// DefaultSessionConfig returns sensible defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		BaseURL:            "wss://api.exaroton.com/v1",
		Client:             DefaultClientConfig(),
		Reconnect:          DefaultReconnectConfig(),
		Governor:           governor.DefaultConfig(),
		RequestTimeout:     10 * time.Second,
		ListenerBuffer:     1000,
		NotificationBuffer: 256,
		CloseTimeout:       5 * time.Second,
	}
}

// StreamURL returns the WebSocket URL for one server.
func StreamURL(baseURL, serverID string) string {
	for len(baseURL) > 0 && baseURL[len(baseURL)-1] == '/' {
		baseURL = baseURL[:len(baseURL)-1]
	}
	return baseURL + "/servers/" + serverID + "/websocket"
}
