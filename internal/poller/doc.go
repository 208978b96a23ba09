// Package poller implements the REST status poller.
//
// The poller:
//   - Fetches every configured server over REST on an interval
//   - Bounds concurrent requests with an errgroup limit
//   - Hands each status to a StatusHandler (the recorder, with source="poll")
//   - Fills gaps while a stream session is reconnecting
package poller
