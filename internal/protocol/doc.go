// Package protocol implements the exaroton WebSocket wire codec.
//
// Every frame is a JSON object:
//
//	{"stream": "console", "type": "line", "id": "…", "data": …}
//
// stream and id are optional. Outbound commands are built with the
// constructors in command.go and encoded with Encode. Inbound frames are
// turned into typed events with Decode. Unknown frame types decode to
// UnrecognizedEvent so that server-side additions never break a client.
package protocol
