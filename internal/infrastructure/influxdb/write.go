package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/denh4m/ddms-core/internal/poller"
)

// WriteReading mirrors one device measurement.
//
// Satisfies the reading store's Mirror interface. The write is
// non-blocking; points are batched and sent asynchronously, and
// dropped silently when the mirror is down.
func (c *Client) WriteReading(deviceID string, value float64, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"readings",
		map[string]string{
			"device_id": deviceID,
		},
		map[string]interface{}{
			"value": value,
		},
		timestamp,
	)
	c.writeAPI.WritePoint(point)
}

// PublishTransition lets the client serve as a notification engine event
// bus, charting connectivity transitions next to the readings.
func (c *Client) PublishTransition(ev poller.TransitionEvent) {
	c.WriteStatusChange(ev.DeviceID, string(ev.From), string(ev.To), ev.Timestamp)
}

// WriteStatusChange records a device connectivity transition so status
// flaps can be charted alongside the readings.
func (c *Client) WriteStatusChange(deviceID, from, to string, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"status_changes",
		map[string]string{
			"device_id": deviceID,
			"from":      from,
			"to":        to,
		},
		map[string]interface{}{
			"count": 1,
		},
		timestamp,
	)
	c.writeAPI.WritePoint(point)
}
