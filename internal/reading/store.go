package reading

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Logger defines the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Reading is a single stored measurement.
type Reading struct {
	DeviceID  string    `json:"device_id"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// Point is one aggregated bucket of readings.
type Point struct {
	Bucket time.Time `json:"bucket"`
	Avg    float64   `json:"avg"`
	Min    float64   `json:"min"`
	Max    float64   `json:"max"`
	Count  int64     `json:"count"`
}

// Mirror receives a copy of every stored reading. Used to feed the
// optional InfluxDB and MQTT telemetry mirrors without coupling the
// store to them. Implementations must not block.
type Mirror interface {
	WriteReading(deviceID string, value float64, timestamp time.Time)
}

// Store persists readings and serves historical queries.
//
// Raw rows live in the readings hypertable. Aggregated queries compute
// buckets at read time with date_trunc; the range decides the
// granularity, see BucketForRange.
type Store struct {
	db      *sql.DB
	mirrors []Mirror
	logger  Logger
}

// NewStore creates a reading store over the given pool.
func NewStore(db *sql.DB, logger Logger) *Store {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Store{db: db, logger: logger}
}

// AddMirror attaches a telemetry mirror. Must be called before the
// poller starts; the store does not lock around the slice.
func (s *Store) AddMirror(m Mirror) {
	s.mirrors = append(s.mirrors, m)
}

// Append stores one measurement.
func (s *Store) Append(ctx context.Context, deviceID string, value float64, timestamp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO readings (timestamp, device_id, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (timestamp, device_id) DO NOTHING`,
		timestamp, deviceID, value,
	)
	if err != nil {
		return fmt.Errorf("inserting reading: %w", err)
	}

	for _, m := range s.mirrors {
		m.WriteReading(deviceID, value, timestamp)
	}
	return nil
}

// Latest returns the most recent reading for a device.
// Returns ErrNoReadings when the device has never produced data.
func (s *Store) Latest(ctx context.Context, deviceID string) (*Reading, error) {
	r := Reading{DeviceID: deviceID}
	err := s.db.QueryRowContext(ctx, `
		SELECT timestamp, value
		FROM readings
		WHERE device_id = $1
		ORDER BY timestamp DESC
		LIMIT 1`, deviceID).Scan(&r.Timestamp, &r.Value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoReadings
		}
		return nil, fmt.Errorf("querying latest reading: %w", err)
	}
	return &r, nil
}

// QueryRaw returns individual samples in [start, end] ordered by time.
func (s *Store) QueryRaw(ctx context.Context, deviceID string, start, end time.Time) ([]Reading, error) {
	if end.Before(start) {
		return nil, ErrInvalidRange
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, value
		FROM readings
		WHERE device_id = $1 AND timestamp >= $2 AND timestamp <= $3
		ORDER BY timestamp`, deviceID, start, end)
	if err != nil {
		return nil, fmt.Errorf("querying readings: %w", err)
	}
	defer rows.Close()

	var readings []Reading
	for rows.Next() {
		r := Reading{DeviceID: deviceID}
		if err := rows.Scan(&r.Timestamp, &r.Value); err != nil {
			return nil, fmt.Errorf("scanning reading: %w", err)
		}
		readings = append(readings, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating readings: %w", err)
	}
	return readings, nil
}

// QueryBucketed returns per-bucket aggregates in [start, end] ordered
// by bucket. The bucket must be minute, hour or day; raw queries go
// through QueryRaw.
func (s *Store) QueryBucketed(ctx context.Context, deviceID string, start, end time.Time, bucket Bucket) ([]Point, error) {
	if end.Before(start) {
		return nil, ErrInvalidRange
	}
	switch bucket {
	case BucketMinute, BucketHour, BucketDay:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidBucket, bucket)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT date_trunc($1, timestamp) AS bucket,
		       avg(value), min(value), max(value), count(*)
		FROM readings
		WHERE device_id = $2 AND timestamp >= $3 AND timestamp <= $4
		GROUP BY bucket
		ORDER BY bucket`, truncArg(bucket), deviceID, start, end)
	if err != nil {
		return nil, fmt.Errorf("querying aggregated readings: %w", err)
	}
	defer rows.Close()

	var points []Point
	for rows.Next() {
		var p Point
		if err := rows.Scan(&p.Bucket, &p.Avg, &p.Min, &p.Max, &p.Count); err != nil {
			return nil, fmt.Errorf("scanning aggregate: %w", err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating aggregates: %w", err)
	}
	return points, nil
}
