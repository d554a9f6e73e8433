// Package device provides the device registry for DDMS Core.
//
// A device is a Modbus TCP sensor endpoint polled on a per-device
// interval. The package owns the device model, validation rules,
// persistence and a cached registry that serves both the HTTP API and
// the polling service.
//
// # Architecture
//
//	Registry (cached, thread-safe)
//	    |
//	Repository (interface)
//	    |
//	PostgresRepository (PostgreSQL implementation)
//
// The Registry keeps a deep-copied in-memory cache of all devices plus
// a live map of each device's most recent reading. The live map backs
// the periodic websocket snapshot without touching the database.
//
// # Status Lifecycle
//
// Devices move between ONLINE, OFFLINE and ERROR. Transitions are
// decided by the polling service; the registry only records them. A
// device's LastSuccessAt is preserved across OFFLINE and ERROR periods
// so operators can see when it last produced data.
package device
