package notification

import (
	"errors"
	"time"
)

// Type classifies what a notification is about.
type Type string

const (
	// TypeDisconnect means a device stopped responding.
	TypeDisconnect Type = "DISCONNECT"

	// TypeReconnect means a device came back after being offline.
	TypeReconnect Type = "RECONNECT"

	// TypeSystem covers everything not tied to a single device.
	TypeSystem Type = "SYSTEM"
)

// Severity ranks how urgently a notification needs attention.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// Notification is one message delivered to one user. A device event
// fans out to one row per recipient so read/dismiss state is per-user.
type Notification struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	DeviceID string `json:"device_id,omitempty"`

	Type     Type     `json:"type"`
	Severity Severity `json:"severity"`
	Title    string   `json:"title"`
	Message  string   `json:"message"`

	// Metadata carries structured context (device name, last error).
	Metadata map[string]any `json:"metadata,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
	DismissedAt *time.Time `json:"dismissed_at,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
}

// Domain errors for the notification package.
var (
	// ErrNotFound is returned when a notification does not exist or
	// belongs to another user.
	ErrNotFound = errors.New("notification: not found")

	// ErrNoRecipients is returned when a device event has nobody to
	// notify.
	ErrNoRecipients = errors.New("notification: no recipients")
)
