package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/denh4m/ddms-core/internal/poller"
)

// Maximum payload size for MQTT messages (1MB).
const maxPayloadSize = 1 << 20

// Publish sends a message to the specified MQTT topic.
//
// Parameters:
//   - topic: destination topic.
//   - payload: message payload (typically JSON, max 1MB).
//   - qos: Quality of Service level (0, 1, or 2).
//   - retained: whether the broker keeps the message for new subscribers.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// PublishJSON marshals v and publishes it.
func (c *Client) PublishJSON(topic string, v any, qos byte, retained bool) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encoding payload: %w", ErrPublishFailed, err)
	}
	return c.Publish(topic, payload, qos, retained)
}

// transitionMessage is the wire shape for device connectivity events.
type transitionMessage struct {
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
	From       string `json:"from"`
	To         string `json:"to"`
	Event      string `json:"event"`
	Timestamp  string `json:"timestamp"`
	Reason     string `json:"reason,omitempty"`
}

// PublishTransition mirrors a device connectivity event onto the bus.
// Failures are logged and swallowed; the bus never blocks notification
// handling.
func (c *Client) PublishTransition(ev poller.TransitionEvent) {
	msg := transitionMessage{
		DeviceID:   ev.DeviceID,
		DeviceName: ev.DeviceName,
		From:       string(ev.From),
		To:         string(ev.To),
		Event:      ev.Event.String(),
		Timestamp:  ev.Timestamp.UTC().Format(time.RFC3339),
		Reason:     ev.Reason,
	}
	if err := c.PublishJSON(DeviceEventTopic(ev.DeviceID), msg, byte(c.cfg.QoS), false); err != nil {
		c.loggerMu.RLock()
		logger := c.logger
		c.loggerMu.RUnlock()
		if logger != nil {
			logger.Error("publishing transition event failed",
				"device_id", ev.DeviceID, "error", err)
		}
	}
}

// readingMessage is the wire shape for reading updates.
type readingMessage struct {
	DeviceID  string  `json:"device_id"`
	Value     float64 `json:"value"`
	Timestamp string  `json:"timestamp"`
}

// PublishReading publishes a device's latest value, retained so new
// subscribers see the current state immediately.
func (c *Client) PublishReading(deviceID string, value float64, timestamp string) error {
	msg := readingMessage{DeviceID: deviceID, Value: value, Timestamp: timestamp}
	return c.PublishJSON(DeviceReadingTopic(deviceID), msg, byte(c.cfg.QoS), true)
}

// WriteReading lets the client serve as a reading store mirror.
// The publish runs in its own goroutine because PublishReading waits on
// broker acknowledgement and the caller sits on the poll path. Failures
// are logged and swallowed.
func (c *Client) WriteReading(deviceID string, value float64, timestamp time.Time) {
	go func() {
		if err := c.PublishReading(deviceID, value, timestamp.UTC().Format(time.RFC3339)); err != nil {
			c.loggerMu.RLock()
			logger := c.logger
			c.loggerMu.RUnlock()
			if logger != nil {
				logger.Error("publishing reading failed",
					"device_id", deviceID, "error", err)
			}
		}
	}()
}
