package protocol

import (
	"encoding/json"
	"fmt"
)

// streamServer is the pseudo stream that carries power actions.
const streamServer = "server"

// Command types
const (
	TypeStart   = "start"
	TypeStop    = "stop"
	TypeRestart = "restart"
	TypeCommand = "command"
)

// Command is an outbound instruction for the remote server.
type Command struct {
	Stream string // channel name, or "server" for power actions
	Type   string
	Data   any // marshalled into the frame's data field; nil omits it
}

// StartStream asks the server to begin emitting events for ch.
func StartStream(ch Channel) Command {
	return Command{Stream: string(ch), Type: TypeStart}
}

// StartConsole starts the console stream, replaying the last tail lines.
func StartConsole(tail int) Command {
	return Command{
		Stream: string(ChannelConsole),
		Type:   TypeStart,
		Data:   consoleStartWire{Tail: tail},
	}
}

// StopStream asks the server to stop emitting events for ch.
func StopStream(ch Channel) Command {
	return Command{Stream: string(ch), Type: TypeStop}
}

// ConsoleCommand executes line on the server console.
func ConsoleCommand(line string) Command {
	return Command{Stream: string(ChannelConsole), Type: TypeCommand, Data: line}
}

// StartServer starts the server. Shared servers may bill the caller's own
// credits instead of the owner's.
func StartServer(useOwnCredits bool) Command {
	cmd := Command{Stream: streamServer, Type: TypeStart}
	if useOwnCredits {
		cmd.Data = serverStartWire{UseOwnCredits: true}
	}
	return cmd
}

// StopServer stops the server.
func StopServer() Command {
	return Command{Stream: streamServer, Type: TypeStop}
}

// RestartServer restarts the server.
func RestartServer() Command {
	return Command{Stream: streamServer, Type: TypeRestart}
}

// Validate checks that c is a command the remote API understands.
func (c Command) Validate() error {
	if c.Stream == streamServer {
		switch c.Type {
		case TypeStart, TypeStop, TypeRestart:
			return nil
		}
		return fmt.Errorf("%w: server does not accept %q", ErrInvalidCommand, c.Type)
	}

	ch, ok := ParseChannel(c.Stream)
	if !ok {
		return fmt.Errorf("%w: unknown stream %q", ErrInvalidCommand, c.Stream)
	}

	switch c.Type {
	case TypeStart, TypeStop:
		if !ch.Streamed() {
			return fmt.Errorf("%w: %s is not a streamed channel", ErrInvalidCommand, ch)
		}
		return nil
	case TypeCommand:
		if ch != ChannelConsole {
			return fmt.Errorf("%w: commands are only accepted on console", ErrInvalidCommand)
		}
		if line, ok := c.Data.(string); !ok || line == "" {
			return fmt.Errorf("%w: console command must be a non-empty string", ErrInvalidCommand)
		}
		return nil
	}

	return fmt.Errorf("%w: unknown type %q", ErrInvalidCommand, c.Type)
}

// Encode serialises cmd into a frame tagged with the correlation id.
// An empty id produces an untracked (fire-and-forget) frame.
func Encode(cmd Command, id string) ([]byte, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	frame := Frame{
		Stream: cmd.Stream,
		Type:   cmd.Type,
		ID:     id,
	}

	if cmd.Data != nil {
		data, err := json.Marshal(cmd.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: marshal data: %v", ErrInvalidCommand, err)
		}
		frame.Data = data
	}

	return json.Marshal(frame)
}
