package mux

import (
	"context"
	"errors"
	"fmt"

	"github.com/rickgao/exaroton/internal/protocol"
)

// Errors
var (
	ErrClosed          = errors.New("multiplexer closed")
	ErrInvalidKey      = errors.New("invalid subscription key")
	ErrNilListener     = errors.New("nil listener")
	ErrListenerPanic   = errors.New("listener panic")
	ErrEmptyListenerID = errors.New("empty listener id")
)

// Key identifies a subscription: one channel of one server.
type Key struct {
	ServerID string
	Channel  protocol.Channel
}

// KeyOf returns the subscription key an event is routed to.
func KeyOf(ev protocol.Event) Key {
	return Key{ServerID: ev.ServerID(), Channel: ev.Channel()}
}

func (k Key) String() string {
	return k.ServerID + "/" + string(k.Channel)
}

// Validate checks that k names a server and a known channel.
func (k Key) Validate() error {
	if k.ServerID == "" {
		return fmt.Errorf("%w: missing server id", ErrInvalidKey)
	}
	if !k.Channel.Valid() {
		return fmt.Errorf("%w: unknown channel %q", ErrInvalidKey, k.Channel)
	}
	return nil
}

// Listener consumes events for the keys it is registered under.
// HandleEvent is called from the listener's own delivery goroutine, never
// concurrently with itself.
type Listener interface {
	HandleEvent(ctx context.Context, ev protocol.Event) error
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(ctx context.Context, ev protocol.Event) error

// HandleEvent calls f(ctx, ev).
func (f ListenerFunc) HandleEvent(ctx context.Context, ev protocol.Event) error {
	return f(ctx, ev)
}

// ErrorHandler is told about listener failures. err wraps ErrListenerPanic
// when the listener panicked.
type ErrorHandler func(key Key, listenerID string, err error)

// DropHandler is told when a listener is handed a DroppedEvents notice.
type DropHandler func(key Key, listenerID string, count int)

// Config configures the multiplexer.
type Config struct {
	BufferSize int          // Per-listener inbound buffer bound
	OnError    ErrorHandler // Optional
	OnDrop     DropHandler  // Optional
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BufferSize: 1000,
	}
}

// Stats contains runtime statistics.
type Stats struct {
	Keys       int
	Listeners  int
	Dispatched int64
	Unrouted   int64 // Events with no registered listener
	Dropped    int64
}
