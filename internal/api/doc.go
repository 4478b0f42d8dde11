// Package api provides a client for the event router's status HTTP API.
//
// The client handles:
//   - GET /health, /stats and /version with JSON decoding
//   - Retry with exponential backoff and jitter for 5xx and 429
//   - Treating 503 from /health as an OVERLOADED snapshot rather than a failure
package api
