package reading

import "errors"

// Domain errors for the reading package.
var (
	// ErrNoReadings is returned when a device has no stored readings.
	ErrNoReadings = errors.New("reading: no readings")

	// ErrInvalidBucket is returned when a bucket name is not recognised.
	ErrInvalidBucket = errors.New("reading: invalid bucket")

	// ErrInvalidRange is returned when a query range is inverted.
	ErrInvalidRange = errors.New("reading: invalid time range")
)
