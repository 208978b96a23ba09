package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rickgao/exaroton/internal/model"
)

// Control frame types
const (
	TypeReady        = "ready"
	TypeConnected    = "connected"
	TypeDisconnected = "disconnected"
	TypeKeepAlive    = "keep-alive"
	TypeStarted      = "started"
	TypeStopped      = "stopped"
)

// Decode parses one frame received from serverID's connection. It returns
// a *ProtocolError for frames that are not valid JSON objects, lack a type,
// or carry data of the wrong shape for a known type.
func Decode(serverID string, data []byte, receivedAt time.Time) (Event, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, newProtocolError("invalid frame", data, err)
	}
	if f.Type == "" {
		return nil, newProtocolError("missing type", data, nil)
	}

	meta := Meta{Server: serverID, ReceivedAt: receivedAt}

	switch f.Type {
	case "status":
		var s model.Server
		if err := unmarshalData(f, &s); err != nil {
			return nil, newProtocolError("status data", data, err)
		}
		if s.ID == "" {
			return nil, newProtocolError("status data", data, errors.New("missing server id"))
		}
		return StatusChanged{Meta: meta, State: s}, nil

	case "line":
		if f.Stream != "" && f.Stream != string(ChannelConsole) {
			return nil, newProtocolError("console line", data, fmt.Errorf("unexpected stream %q", f.Stream))
		}
		var line *string
		if err := unmarshalData(f, &line); err != nil {
			return nil, newProtocolError("console line", data, err)
		}
		if line == nil {
			return nil, newProtocolError("console line", data, errors.New("null data"))
		}
		return ConsoleLine{Meta: meta, Line: *line}, nil

	case "stats":
		var w statsWire
		if err := unmarshalData(f, &w); err != nil {
			return nil, newProtocolError("stats data", data, err)
		}
		return StatsUpdate{Meta: meta, MemoryPercent: w.Memory.Percent, MemoryUsage: w.Memory.Usage}, nil

	case "tick":
		var w tickWire
		if err := unmarshalData(f, &w); err != nil {
			return nil, newProtocolError("tick data", data, err)
		}
		return TickUpdate{Meta: meta, AverageTickTime: w.AverageTickTime}, nil

	case "heap":
		var w heapWire
		if err := unmarshalData(f, &w); err != nil {
			return nil, newProtocolError("heap data", data, err)
		}
		return HeapUpdate{Meta: meta, Usage: w.Usage}, nil

	case "credits":
		var w creditsWire
		if err := unmarshalData(f, &w); err != nil {
			return nil, newProtocolError("credits data", data, err)
		}
		return CreditsUpdate{Meta: meta, Credits: w.Credits}, nil

	case "ack":
		// An ack without id answers an untracked command.
		return RequestAck{Meta: meta, ID: f.ID, Stream: f.Stream, Data: f.Data}, nil

	case "error":
		return decodeError(meta, f, data)

	case TypeReady, TypeConnected, TypeDisconnected, TypeKeepAlive, TypeStarted, TypeStopped:
		return Control{Meta: meta, Type: f.Type, Stream: f.Stream, Data: f.Data}, nil
	}

	return UnrecognizedEvent{
		Meta:   meta,
		Stream: f.Stream,
		Type:   f.Type,
		Raw:    append([]byte(nil), data...),
	}, nil
}

// decodeError accepts both {"code","message"} objects and bare strings.
func decodeError(meta Meta, f Frame, data []byte) (Event, error) {
	ev := RequestError{Meta: meta, ID: f.ID}
	if len(f.Data) == 0 {
		return ev, nil
	}

	var msg string
	if err := json.Unmarshal(f.Data, &msg); err == nil {
		ev.Message = msg
		return ev, nil
	}

	var w errorWire
	if err := json.Unmarshal(f.Data, &w); err != nil {
		return nil, newProtocolError("error data", data, err)
	}
	ev.Code = w.Code
	ev.Message = w.Message
	return ev, nil
}

func unmarshalData(f Frame, v any) error {
	if len(f.Data) == 0 {
		return errors.New("missing data")
	}
	return json.Unmarshal(f.Data, v)
}
