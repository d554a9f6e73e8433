package modbus

import (
	"errors"
	"fmt"
)

// Domain errors for the Modbus client package.
var (
	// ErrConnectionFailed is returned when the TCP connection to the
	// device cannot be established.
	ErrConnectionFailed = errors.New("modbus: connection failed")

	// ErrTimeout is returned when a read attempt exceeds its deadline,
	// either while dialing or waiting for a response.
	ErrTimeout = errors.New("modbus: operation timed out")

	// ErrInvalidResponse is returned when a response frame is malformed
	// or does not match the request.
	ErrInvalidResponse = errors.New("modbus: invalid response")

	// ErrUnsupportedCount is returned when a register count has no
	// decoding rule (supported counts are 1, 2 and 4).
	ErrUnsupportedCount = errors.New("modbus: unsupported register count")
)

// ExceptionError represents a Modbus exception response from the device.
//
// The device answered the request but rejected it at the application
// layer. The poller treats this as an error outcome rather than a
// connectivity failure: the device is reachable but misconfigured.
type ExceptionError struct {
	// Code is the exception code from the response PDU.
	Code byte
}

// Error implements the error interface.
func (e *ExceptionError) Error() string {
	return fmt.Sprintf("modbus: exception %#02x (%s)", e.Code, exceptionName(e.Code))
}

// exceptionName maps standard Modbus exception codes to their names.
func exceptionName(code byte) string {
	switch code {
	case 0x01:
		return "illegal function"
	case 0x02:
		return "illegal data address"
	case 0x03:
		return "illegal data value"
	case 0x04:
		return "server device failure"
	case 0x05:
		return "acknowledge"
	case 0x06:
		return "server busy"
	case 0x0A:
		return "gateway path unavailable"
	case 0x0B:
		return "gateway target failed to respond"
	default:
		return "unknown"
	}
}
