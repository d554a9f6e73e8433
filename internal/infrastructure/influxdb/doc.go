// Package influxdb provides an optional telemetry mirror.
//
// Every stored reading can be duplicated into an InfluxDB bucket for
// sites that already run Grafana against InfluxDB. The mirror is
// best-effort: batched, asynchronous, and never on the poll cycle's
// critical path. PostgreSQL stays the system of record.
package influxdb
