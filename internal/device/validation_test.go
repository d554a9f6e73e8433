package device

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateDevice(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(d *Device)
		wantErr error
	}{
		{
			name:   "valid device",
			mutate: func(d *Device) {},
		},
		{
			name:    "empty name",
			mutate:  func(d *Device) { d.Name = "  " },
			wantErr: ErrInvalidName,
		},
		{
			name:    "name too long",
			mutate:  func(d *Device) { d.Name = strings.Repeat("x", 101) },
			wantErr: ErrInvalidName,
		},
		{
			name:    "invalid IP",
			mutate:  func(d *Device) { d.Endpoint.IP = "not-an-ip" },
			wantErr: ErrInvalidEndpoint,
		},
		{
			name:   "IPv6 endpoint",
			mutate: func(d *Device) { d.Endpoint.IP = "fd00::12" },
		},
		{
			name:    "port zero",
			mutate:  func(d *Device) { d.Endpoint.Port = 0 },
			wantErr: ErrInvalidEndpoint,
		},
		{
			name:    "port too high",
			mutate:  func(d *Device) { d.Endpoint.Port = 70000 },
			wantErr: ErrInvalidEndpoint,
		},
		{
			name:    "slave ID out of range",
			mutate:  func(d *Device) { d.Endpoint.SlaveID = 300 },
			wantErr: ErrInvalidEndpoint,
		},
		{
			name:    "register out of range",
			mutate:  func(d *Device) { d.Endpoint.Register = 70000 },
			wantErr: ErrInvalidEndpoint,
		},
		{
			name:    "register count three",
			mutate:  func(d *Device) { d.Endpoint.RegisterCount = 3 },
			wantErr: ErrInvalidEndpoint,
		},
		{
			name:   "register count four",
			mutate: func(d *Device) { d.Endpoint.RegisterCount = 4 },
		},
		{
			name:    "interval below minimum",
			mutate:  func(d *Device) { d.SamplingInterval = 0 },
			wantErr: ErrInvalidInterval,
		},
		{
			name:    "interval above maximum",
			mutate:  func(d *Device) { d.SamplingInterval = 3601 },
			wantErr: ErrInvalidInterval,
		},
		{
			name:   "interval at bounds",
			mutate: func(d *Device) { d.SamplingInterval = 3600 },
		},
		{
			name:    "zero retention",
			mutate:  func(d *Device) { d.RetentionDays = 0 },
			wantErr: ErrInvalidDevice,
		},
		{
			name:    "unknown status",
			mutate:  func(d *Device) { d.Status = "SLEEPING" },
			wantErr: ErrInvalidStatus,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := testDevice("validation-target")
			tt.mutate(d)

			err := ValidateDevice(d)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateDevice() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateDevice() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateDevice_Nil(t *testing.T) {
	if err := ValidateDevice(nil); !errors.Is(err, ErrInvalidDevice) {
		t.Errorf("ValidateDevice(nil) error = %v, want ErrInvalidDevice", err)
	}
}

func TestStatus_IsValid(t *testing.T) {
	for _, s := range AllStatuses() {
		if !s.IsValid() {
			t.Errorf("%q should be valid", s)
		}
	}
	if Status("BROKEN").IsValid() {
		t.Error("unknown status should be invalid")
	}
}
