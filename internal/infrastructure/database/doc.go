// Package database manages the PostgreSQL/TimescaleDB connection for DDMS Core.
//
// It wraps database/sql with pool configuration, health checks, and an
// embedded-migration runner. Migration files are versioned
// YYYYMMDD_HHMMSS_description.up.sql / .down.sql and applied in order,
// each in its own transaction.
package database
