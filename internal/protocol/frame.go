package protocol

import "encoding/json"

// Frame is the JSON envelope of every message on the wire.
type Frame struct {
	Stream string          `json:"stream,omitempty"`
	Type   string          `json:"type"`
	ID     string          `json:"id,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Wire types for data payloads

type memoryWire struct {
	Percent float64 `json:"percent"`
	Usage   int64   `json:"usage"`
}

type statsWire struct {
	Memory memoryWire `json:"memory"`
}

type tickWire struct {
	AverageTickTime float64 `json:"averageTickTime"`
}

type heapWire struct {
	Usage int64 `json:"usage"`
}

type creditsWire struct {
	Credits float64 `json:"credits"`
}

type errorWire struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type consoleStartWire struct {
	Tail int `json:"tail"`
}

type serverStartWire struct {
	UseOwnCredits bool `json:"useOwnCredits"`
}
