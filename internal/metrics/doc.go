// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - WebSocket connection state, frame rates and reconnect attempts
//   - Protocol errors and dropped events per listener
//   - Request outcomes, latency and pending count
//   - Outbound queue depth
//   - Recorder batch sizes and poller fetches
//
// A nil *Metrics is valid and records nothing.
package metrics
