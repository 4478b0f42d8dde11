// Package writer implements the batch writer for the health-history table.
//
// Each Health Monitor sample becomes one row in router_health_samples.
// Rows are batched and flushed on size or interval, append-only.
package writer
