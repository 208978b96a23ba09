// Package bridge correlates outbound commands with the acknowledgement or
// error frames that answer them.
//
// Each Register call allocates a fresh correlation id and a Call that is
// resolved exactly once: by the matching response, its timeout, a
// connection failure (FailAll / FailTag) or cancellation of the waiting
// context, whichever happens first. Responses that arrive later are
// discarded.
package bridge
