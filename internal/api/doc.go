// Package api provides the exaroton REST API client.
//
// REST endpoint:
//   - https://api.exaroton.com/v1
//
// Every JSON response is wrapped in an envelope {"success", "error", "data"};
// an unsuccessful envelope is returned as *APIError. File contents are read
// and written as raw bytes.
package api
