package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/denh4m/ddms-core/internal/device"
	"github.com/denh4m/ddms-core/internal/reading"
)

// defaultQueryWindow is the range used when the caller omits start.
const defaultQueryWindow = time.Hour

type readingsResponse struct {
	DeviceID string            `json:"device_id"`
	Bucket   reading.Bucket    `json:"bucket"`
	Start    time.Time         `json:"start"`
	End      time.Time         `json:"end"`
	Readings []reading.Reading `json:"readings,omitempty"`
	Points   []reading.Point   `json:"points,omitempty"`
}

// handleReadings serves historical readings for a device.
//
// Query parameters:
//   - start, end: RFC 3339 timestamps. end defaults to now, start to one
//     hour before end.
//   - bucket: raw, minute, hour, day, or auto (default). Auto picks the
//     bucket from the range width.
func (s *Server) handleReadings(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := s.devices.GetDevice(r.Context(), id); err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		s.logger.Error("device lookup failed", "device_id", id, "error", err)
		writeInternalError(w, "device lookup failed")
		return
	}

	end := time.Now().UTC()
	if raw := r.URL.Query().Get("end"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeBadRequest(w, "end must be an RFC 3339 timestamp")
			return
		}
		end = t
	}

	start := end.Add(-defaultQueryWindow)
	if raw := r.URL.Query().Get("start"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeBadRequest(w, "start must be an RFC 3339 timestamp")
			return
		}
		start = t
	}

	if start.After(end) {
		writeBadRequest(w, "start must not be after end")
		return
	}

	bucket, auto, err := reading.ParseBucket(r.URL.Query().Get("bucket"))
	if err != nil {
		writeBadRequest(w, "bucket must be one of raw, minute, hour, day, auto")
		return
	}
	if auto {
		bucket = reading.BucketForRange(start, end)
	}

	resp := readingsResponse{
		DeviceID: id,
		Bucket:   bucket,
		Start:    start,
		End:      end,
	}

	if bucket == reading.BucketRaw {
		rows, err := s.readings.QueryRaw(r.Context(), id, start, end)
		if err != nil {
			s.logger.Error("raw readings query failed", "device_id", id, "error", err)
			writeInternalError(w, "readings query failed")
			return
		}
		resp.Readings = rows
	} else {
		points, err := s.readings.QueryBucketed(r.Context(), id, start, end, bucket)
		if err != nil {
			s.logger.Error("bucketed readings query failed", "device_id", id, "bucket", bucket, "error", err)
			writeInternalError(w, "readings query failed")
			return
		}
		resp.Points = points
	}

	writeJSON(w, http.StatusOK, resp)
}
