// Package model defines shared data types used across the event router.
//
// Conventions:
//   - Topics: dot-segmented strings ("agent.lifecycle.started")
//   - Event IDs: UUIDv7 strings, time ordered
//   - Payloads: opaque JSON, passed through untouched
//   - Priorities: LOW < NORMAL < HIGH < CRITICAL
package model
