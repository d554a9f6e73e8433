// Package mqtt publishes DDMS events to an MQTT broker.
//
// The bus is optional and publish-only: device connectivity events and
// reading updates go out so external dashboards and automations can
// subscribe instead of polling the HTTP API. When disabled in config,
// nothing in the system references a broker.
//
// Delivery is best-effort. A broker outage drops events; the system of
// record remains PostgreSQL.
package mqtt
