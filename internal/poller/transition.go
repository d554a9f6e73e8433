package poller

import (
	"time"

	"github.com/denh4m/ddms-core/internal/device"
)

// Outcome classifies the result of a completed poll cycle.
type Outcome int

const (
	// OutcomeSuccess means a reading was obtained.
	OutcomeSuccess Outcome = iota

	// OutcomeConnectionFailure means every attempt timed out or the
	// connection was refused or dropped.
	OutcomeConnectionFailure

	// OutcomeProtocolError means the device responded but the exchange
	// failed at the application layer.
	OutcomeProtocolError
)

// String returns the outcome name for logging.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeConnectionFailure:
		return "connection_failure"
	case OutcomeProtocolError:
		return "protocol_error"
	default:
		return "unknown"
	}
}

// Event identifies a connectivity transition that observers care about.
type Event int

const (
	// EventNone means the transition is not notification-worthy.
	EventNone Event = iota

	// EventDisconnect fires when a device that was reachable, or has
	// never been polled, lands in OFFLINE or ERROR.
	EventDisconnect

	// EventReconnect fires when an OFFLINE or ERROR device comes back
	// ONLINE.
	EventReconnect
)

// String returns the event name for logging.
func (e Event) String() string {
	switch e {
	case EventDisconnect:
		return "disconnect"
	case EventReconnect:
		return "reconnect"
	default:
		return "none"
	}
}

// Transition computes the next device status from the previous status
// and a cycle outcome, along with the event the transition raises.
//
// The rules:
//   - Success always yields ONLINE. Coming back from OFFLINE or ERROR
//     raises a reconnect event.
//   - Connection failure yields OFFLINE, protocol error yields ERROR.
//     Either raises a disconnect event when the device was ONLINE or
//     had never been polled; a device already in a failure state stays
//     silent, including flips between OFFLINE and ERROR.
func Transition(prev device.Status, outcome Outcome) (device.Status, Event) {
	switch outcome {
	case OutcomeSuccess:
		if prev == device.StatusOffline || prev == device.StatusError {
			return device.StatusOnline, EventReconnect
		}
		return device.StatusOnline, EventNone

	case OutcomeConnectionFailure:
		if wasFailing(prev) {
			return device.StatusOffline, EventNone
		}
		return device.StatusOffline, EventDisconnect

	case OutcomeProtocolError:
		if wasFailing(prev) {
			return device.StatusError, EventNone
		}
		return device.StatusError, EventDisconnect

	default:
		return prev, EventNone
	}
}

func wasFailing(prev device.Status) bool {
	return prev == device.StatusOffline || prev == device.StatusError
}

// TransitionEvent is published to observers when a poll cycle changes a
// device's connectivity state.
type TransitionEvent struct {
	// DeviceID identifies the device.
	DeviceID string

	// DeviceName is carried so consumers need not re-resolve it.
	DeviceName string

	// Endpoint is the polled address in host:port form.
	Endpoint string

	// From and To are the statuses either side of the transition.
	From device.Status
	To   device.Status

	// Event is the notification-worthy classification, never EventNone.
	Event Event

	// Timestamp is when the cycle completed.
	Timestamp time.Time

	// Reason is the final attempt's error string for disconnects,
	// empty for reconnects.
	Reason string

	// LastSuccessAt is the time of the last successful read before the
	// transition, nil when the device has never answered.
	LastSuccessAt *time.Time

	// FailureCount is the number of attempts the failing cycle made,
	// zero for reconnects.
	FailureCount int
}
