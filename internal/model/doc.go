// Package model defines shared data types used across the exaroton client.
//
// All types mirror the JSON objects returned by the exaroton v1 API.
//
// Conventions:
//   - IDs: opaque strings assigned by exaroton (e.g. "EwYiY9IAMtQBTb6U")
//   - Memory: bytes
//   - Credits: float64 (the API documents "number", it is fractional)
package model
