// Package database provides the PostgreSQL/TimescaleDB connection pool used
// by the optional health-history sink.
package database
