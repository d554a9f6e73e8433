package device

import (
	"time"

	"github.com/google/uuid"
)

// Status represents a device's connectivity state as determined by the
// polling service.
type Status string

// Device status values.
const (
	// StatusOnline means the most recent poll cycle succeeded.
	StatusOnline Status = "ONLINE"

	// StatusOffline means the device could not be reached: every
	// attempt in the last cycle timed out or was refused.
	StatusOffline Status = "OFFLINE"

	// StatusError means the device responded but the exchange failed
	// at the protocol level (exception response, malformed frame).
	StatusError Status = "ERROR"

	// StatusUnset marks a device that has never completed a poll
	// cycle, either freshly created or loaded after a restart. It is
	// never persisted; the first cycle resolves it to a real status.
	StatusUnset Status = ""
)

// AllStatuses returns every valid device status.
func AllStatuses() []Status {
	return []Status{StatusOnline, StatusOffline, StatusError}
}

// IsValid reports whether the status is a recognised value.
func (s Status) IsValid() bool {
	switch s {
	case StatusOnline, StatusOffline, StatusError:
		return true
	}
	return false
}

// Endpoint describes where and what to poll on a Modbus TCP device.
type Endpoint struct {
	// IP is the device's IPv4 or IPv6 address.
	IP string `json:"ip"`

	// Port is the Modbus TCP port, conventionally 502.
	Port int `json:"port"`

	// SlaveID is the Modbus unit identifier.
	SlaveID int `json:"slave_id"`

	// Register is the starting holding register address.
	Register int `json:"register"`

	// RegisterCount is how many consecutive registers hold the value.
	// Supported counts are 1 (raw integer), 2 (float32) and 4 (float64).
	RegisterCount int `json:"register_count"`
}

// Device represents a polled sensor endpoint.
// This matches the database schema in the devices table.
type Device struct {
	// Identity
	ID   string `json:"id"`
	Name string `json:"name"`

	// Endpoint configuration
	Endpoint Endpoint `json:"endpoint"`

	// Unit is the measurement unit label (e.g. "°C", "ppm").
	Unit string `json:"unit"`

	// SamplingInterval is the seconds between poll cycles.
	SamplingInterval int `json:"sampling_interval"`

	// RetentionDays is how long raw readings are kept.
	RetentionDays int `json:"retention_days"`

	// Status is the current connectivity state.
	Status Status `json:"status"`

	// LastSuccessAt is when the device last returned a reading.
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeepCopy creates an independent copy of the Device.
//
// Device has only value fields and immutable pointer targets, so a
// shallow copy is sufficient today. The method exists so cache
// isolation survives if reference fields are ever added.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}
	cpy := *d
	return &cpy
}

// GenerateID creates a new unique device identifier.
func GenerateID() string {
	return uuid.New().String()
}

// Snapshot is a point-in-time view of a device for real-time
// distribution: identity, status and the most recent reading.
type Snapshot struct {
	DeviceID  string     `json:"device_id"`
	Name      string     `json:"name"`
	Status    Status     `json:"status"`
	Unit      string     `json:"unit"`
	Value     *float64   `json:"value,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}
