// Package mux fans decoded events out to listeners registered per
// (server, channel) key.
//
// Every listener owns a bounded RingBuffer and a delivery goroutine, so a
// slow or failing listener never blocks the session's read loop or other
// listeners. When a buffer is full the oldest event is discarded and the
// listener receives a single protocol.DroppedEvents notice before its next
// event.
package mux
