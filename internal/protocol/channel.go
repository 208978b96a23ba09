package protocol

// Channel is a logical category of events for a server.
type Channel string

const (
	ChannelStatus  Channel = "status"
	ChannelConsole Channel = "console"
	ChannelStats   Channel = "stats"
	ChannelTick    Channel = "tick"
	ChannelHeap    Channel = "heap"
	ChannelCredits Channel = "credits"
)

// AllChannels lists every channel the codec knows about.
var AllChannels = []Channel{
	ChannelStatus,
	ChannelConsole,
	ChannelStats,
	ChannelTick,
	ChannelHeap,
	ChannelCredits,
}

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	for _, known := range AllChannels {
		if c == known {
			return true
		}
	}
	return false
}

// Streamed reports whether the server only emits events for c after an
// explicit start command. Status and credit updates are always pushed.
func (c Channel) Streamed() bool {
	switch c {
	case ChannelConsole, ChannelStats, ChannelTick, ChannelHeap:
		return true
	}
	return false
}

// ParseChannel converts s to a Channel, returning false if it is unknown.
func ParseChannel(s string) (Channel, bool) {
	c := Channel(s)
	return c, c.Valid()
}
