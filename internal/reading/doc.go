// Package reading owns the time-series side of DDMS Core: persisting
// measurements, serving historical queries and enforcing retention.
//
// Raw readings land in a TimescaleDB hypertable. Historical queries
// either return raw samples or aggregate at read time with date_trunc,
// with the granularity chosen from the requested range so responses
// stay chart-sized. The Sweeper prunes rows past each device's
// retention window.
package reading
