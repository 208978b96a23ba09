package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rickgao/exaroton/internal/model"
)

// Event is a decoded inbound message. Events are immutable once built.
//
// Channel returns the empty string for events that are not routed to
// subscribers (acknowledgements and control frames).
type Event interface {
	ServerID() string
	Channel() Channel
	Received() time.Time
}

// Meta carries the fields every event shares.
type Meta struct {
	Server     string
	ReceivedAt time.Time // Local timestamp when the frame was read
}

// ServerID returns the id of the server the event belongs to.
func (m Meta) ServerID() string { return m.Server }

// Received returns the local receive timestamp.
func (m Meta) Received() time.Time { return m.ReceivedAt }

// StatusChanged carries the full server object after a status change.
type StatusChanged struct {
	Meta
	State model.Server
}

func (StatusChanged) Channel() Channel { return ChannelStatus }

// ConsoleLine is one line of console output.
type ConsoleLine struct {
	Meta
	Line string
}

func (ConsoleLine) Channel() Channel { return ChannelConsole }

// StatsUpdate reports memory usage of the server process.
type StatsUpdate struct {
	Meta
	MemoryPercent float64
	MemoryUsage   int64 // bytes
}

func (StatsUpdate) Channel() Channel { return ChannelStats }

// TickUpdate reports the average tick time in milliseconds.
type TickUpdate struct {
	Meta
	AverageTickTime float64
}

func (TickUpdate) Channel() Channel { return ChannelTick }

// TPS converts the average tick time to ticks per second, capped at 20.
func (t TickUpdate) TPS() float64 {
	if t.AverageTickTime <= 0 {
		return 20
	}
	tps := 1000 / t.AverageTickTime
	if tps > 20 {
		return 20
	}
	return tps
}

// HeapUpdate reports JVM heap usage in bytes.
type HeapUpdate struct {
	Meta
	Usage int64
}

func (HeapUpdate) Channel() Channel { return ChannelHeap }

// CreditsUpdate reports the credit balance paying for the server.
type CreditsUpdate struct {
	Meta
	Credits float64
}

func (CreditsUpdate) Channel() Channel { return ChannelCredits }

// RequestAck acknowledges the command with correlation id ID.
type RequestAck struct {
	Meta
	ID     string
	Stream string
	Data   json.RawMessage
}

func (RequestAck) Channel() Channel { return "" }

// RequestError rejects the command with correlation id ID. An empty ID
// means the server reported an error that belongs to no request.
type RequestError struct {
	Meta
	ID      string
	Code    string
	Message string
}

func (RequestError) Channel() Channel { return "" }

func (e RequestError) Error() string {
	if e.Code == "" {
		return "request rejected: " + e.Message
	}
	return fmt.Sprintf("request rejected: %s: %s", e.Code, e.Message)
}

// Control is a connection-level frame such as "ready" or "keep-alive".
type Control struct {
	Meta
	Type   string
	Stream string
	Data   json.RawMessage
}

func (Control) Channel() Channel { return "" }

// UnrecognizedEvent wraps a well-formed frame of a type this codec does not
// know. It is routed to the frame's stream when that is a known channel.
type UnrecognizedEvent struct {
	Meta
	Stream string
	Type   string
	Raw    []byte
}

func (u UnrecognizedEvent) Channel() Channel {
	if ch, ok := ParseChannel(u.Stream); ok {
		return ch
	}
	return ""
}

// DroppedEvents tells a listener that Count events of Chan were discarded
// because it did not keep up. It is generated locally, never decoded.
type DroppedEvents struct {
	Meta
	Chan  Channel
	Count int
}

func (d DroppedEvents) Channel() Channel { return d.Chan }
