// Package connection implements the real-time side of the exaroton API.
//
// A Session owns the WebSocket connection of one server:
//   - Client dials and reads one connection, with ping-based liveness
//   - Reconnector drives the backoff state machine after a connection ends
//   - subscriptions are multiplexed onto the connection and replayed after
//     every reconnect
//   - requests are correlated with their ack or error frame
//
// A Manager owns the sessions of several servers.
package connection
