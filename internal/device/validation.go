package device

import (
	"fmt"
	"net"
	"strings"
)

// Validation constants.
const (
	maxNameLength = 100
	maxUnitLength = 20

	// Sampling interval bounds in seconds.
	MinSamplingInterval = 1
	MaxSamplingInterval = 3600
)

// supportedRegisterCounts are the register counts the decoder understands.
var supportedRegisterCounts = map[int]struct{}{1: {}, 2: {}, 4: {}}

// ValidateDevice performs comprehensive validation on a device.
// Returns an error describing the first validation failure found.
func ValidateDevice(d *Device) error {
	if d == nil {
		return ErrInvalidDevice
	}

	if err := ValidateName(d.Name); err != nil {
		return err
	}

	if err := ValidateEndpoint(d.Endpoint); err != nil {
		return err
	}

	if d.SamplingInterval < MinSamplingInterval || d.SamplingInterval > MaxSamplingInterval {
		return fmt.Errorf("%w: %d seconds (must be %d-%d)",
			ErrInvalidInterval, d.SamplingInterval, MinSamplingInterval, MaxSamplingInterval)
	}

	if len(d.Unit) > maxUnitLength {
		return fmt.Errorf("%w: unit exceeds %d characters", ErrInvalidDevice, maxUnitLength)
	}

	if d.RetentionDays < 1 {
		return fmt.Errorf("%w: retention_days must be at least 1", ErrInvalidDevice)
	}

	if d.Status != "" && !d.Status.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, d.Status)
	}

	return nil
}

// ValidateName checks that a device name is non-empty and within limits.
func ValidateName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	return nil
}

// ValidateEndpoint checks the Modbus endpoint configuration.
func ValidateEndpoint(e Endpoint) error {
	if net.ParseIP(e.IP) == nil {
		return fmt.Errorf("%w: %q is not a valid IP address", ErrInvalidEndpoint, e.IP)
	}
	if e.Port < 1 || e.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidEndpoint, e.Port)
	}
	if e.SlaveID < 0 || e.SlaveID > 255 {
		return fmt.Errorf("%w: slave ID %d out of range", ErrInvalidEndpoint, e.SlaveID)
	}
	if e.Register < 0 || e.Register > 65535 {
		return fmt.Errorf("%w: register %d out of range", ErrInvalidEndpoint, e.Register)
	}
	if _, ok := supportedRegisterCounts[e.RegisterCount]; !ok {
		return fmt.Errorf("%w: register count %d (supported: 1, 2, 4)", ErrInvalidEndpoint, e.RegisterCount)
	}
	return nil
}
