package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/denh4m/ddms-core/internal/device"
	"github.com/denh4m/ddms-core/internal/modbus"
	"github.com/denh4m/ddms-core/internal/reading"
)

type latestReadingResponse struct {
	DeviceID  string        `json:"device_id"`
	Name      string        `json:"name"`
	Unit      string        `json:"unit"`
	Status    device.Status `json:"status"`
	Value     *float64      `json:"value"`
	Timestamp *time.Time    `json:"timestamp"`
}

// handleDeviceLatest returns the most recent reading held in memory for a
// device, together with its current status. Value and timestamp are null
// until the device has produced at least one successful poll.
func (s *Server) handleDeviceLatest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	d, err := s.devices.GetDevice(r.Context(), id)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		s.logger.Error("device lookup failed", "device_id", id, "error", err)
		writeInternalError(w, "device lookup failed")
		return
	}

	resp := latestReadingResponse{
		DeviceID: d.ID,
		Name:     d.Name,
		Unit:     d.Unit,
		Status:   d.Status,
	}
	if value, ts, ok := s.devices.LatestReading(id); ok {
		resp.Value = &value
		resp.Timestamp = &ts
	} else if row, lookupErr := s.readings.Latest(r.Context(), id); lookupErr == nil {
		// Nothing in memory yet, fall back to the stored history. A device
		// that has never produced data stays null.
		resp.Value = &row.Value
		resp.Timestamp = &row.Timestamp
	} else if !errors.Is(lookupErr, reading.ErrNoReadings) {
		s.logger.Warn("latest reading lookup failed", "device_id", id, "error", lookupErr)
	}

	writeJSON(w, http.StatusOK, resp)
}

type testConnectionRequest struct {
	IP            string `json:"ip"`
	Port          int    `json:"port"`
	SlaveID       int    `json:"slave_id"`
	Register      int    `json:"register"`
	RegisterCount int    `json:"register_count"`
}

type testConnectionResponse struct {
	Success bool     `json:"success"`
	Value   *float64 `json:"value,omitempty"`
	Reason  string   `json:"reason,omitempty"`
}

// handleTestConnection performs a single probe read against an arbitrary
// endpoint. It never persists anything and never touches a stored device's
// status; a failed probe is a successful API call reporting failure.
func (s *Server) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	var req testConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	if err := device.ValidateEndpoint(device.Endpoint{
		IP:            req.IP,
		Port:          req.Port,
		SlaveID:       req.SlaveID,
		Register:      req.Register,
		RegisterCount: req.RegisterCount,
	}); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.polling.AttemptTimeout())
	defer cancel()

	value, err := s.tester.Read(ctx, modbus.Target{
		Host:     req.IP,
		Port:     req.Port,
		SlaveID:  byte(req.SlaveID),
		Register: uint16(req.Register),
		Count:    uint16(req.RegisterCount),
	})
	if err != nil {
		writeJSON(w, http.StatusOK, testConnectionResponse{
			Success: false,
			Reason:  probeFailureReason(err),
		})
		return
	}

	writeJSON(w, http.StatusOK, testConnectionResponse{
		Success: true,
		Value:   &value,
	})
}

// probeFailureReason maps protocol client errors onto operator-facing text.
func probeFailureReason(err error) string {
	var exc *modbus.ExceptionError
	switch {
	case errors.As(err, &exc):
		return exc.Error()
	case errors.Is(err, modbus.ErrTimeout):
		return "device did not respond before the timeout"
	case errors.Is(err, modbus.ErrConnectionFailed):
		return "connection failed"
	case errors.Is(err, modbus.ErrInvalidResponse):
		return "device returned a malformed response"
	default:
		return err.Error()
	}
}
