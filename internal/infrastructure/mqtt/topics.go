package mqtt

import "fmt"

// Topic layout: ddms/{category}/{device_id}.
//
// Retained state topics let late subscribers pick up the current value;
// event topics are transient.
const (
	// TopicPrefix is the base for all DDMS topics.
	TopicPrefix = "ddms"

	// TopicSystemStatus carries the core's online/offline status,
	// retained, with LWT on crash.
	TopicSystemStatus = TopicPrefix + "/system/status"
)

// DeviceEventTopic returns the topic for a device's connectivity events.
//
// Example: ddms/event/6f1c.../device
func DeviceEventTopic(deviceID string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefix, deviceID)
}

// DeviceReadingTopic returns the topic for a device's latest reading.
//
// Example: ddms/reading/6f1c...
func DeviceReadingTopic(deviceID string) string {
	return fmt.Sprintf("%s/reading/%s", TopicPrefix, deviceID)
}
