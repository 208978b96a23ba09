// Package governor paces outbound frames through a token bucket and bounds
// how many may wait. A full queue rejects new frames with ErrOverloaded
// instead of blocking the caller.
package governor
