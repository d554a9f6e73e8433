package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Repository defines the persistence interface for devices.
//
// Implementations must be safe for concurrent use.
type Repository interface {
	// Create persists a new device.
	// Returns ErrDeviceExists if the ID or name is already taken.
	Create(ctx context.Context, d *Device) error

	// GetByID retrieves a device by ID.
	// Returns ErrDeviceNotFound if it does not exist.
	GetByID(ctx context.Context, id string) (*Device, error)

	// List retrieves all devices ordered by name.
	List(ctx context.Context) ([]Device, error)

	// Update persists changes to an existing device.
	// Returns ErrDeviceNotFound if it does not exist.
	Update(ctx context.Context, d *Device) error

	// Delete removes a device and its readings (cascade).
	// Returns ErrDeviceNotFound if it does not exist.
	Delete(ctx context.Context, id string) error

	// UpdateStatus persists a status transition. lastSuccessAt is only
	// written when non-nil so offline transitions keep the previous
	// success timestamp.
	UpdateStatus(ctx context.Context, id string, status Status, lastSuccessAt *time.Time) error
}

// uniqueViolation is the PostgreSQL error code for unique constraint failures.
const uniqueViolation = "23505"

// PostgresRepository implements Repository backed by PostgreSQL.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a device repository over the given pool.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const deviceColumns = `id, name, modbus_ip, modbus_port, modbus_slave_id,
	modbus_register, modbus_register_count, unit, sampling_interval,
	retention_days, status, last_success_at, created_at, updated_at`

// Create persists a new device.
func (r *PostgresRepository) Create(ctx context.Context, d *Device) error {
	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now
	if d.Status == "" {
		d.Status = StatusOffline
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO devices (`+deviceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		d.ID, d.Name, d.Endpoint.IP, d.Endpoint.Port, d.Endpoint.SlaveID,
		d.Endpoint.Register, d.Endpoint.RegisterCount, d.Unit, d.SamplingInterval,
		d.RetentionDays, d.Status, d.LastSuccessAt, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s", ErrDeviceExists, d.Name)
		}
		return fmt.Errorf("inserting device: %w", err)
	}
	return nil
}

// GetByID retrieves a device by ID.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+deviceColumns+`
		FROM devices
		WHERE id = $1`, id)

	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device: %w", err)
	}
	return d, nil
}

// List retrieves all devices ordered by name.
func (r *PostgresRepository) List(ctx context.Context) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+deviceColumns+`
		FROM devices
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// Update persists changes to an existing device.
func (r *PostgresRepository) Update(ctx context.Context, d *Device) error {
	d.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx, `
		UPDATE devices
		SET name = $2, modbus_ip = $3, modbus_port = $4, modbus_slave_id = $5,
		    modbus_register = $6, modbus_register_count = $7, unit = $8,
		    sampling_interval = $9, retention_days = $10, updated_at = $11
		WHERE id = $1`,
		d.ID, d.Name, d.Endpoint.IP, d.Endpoint.Port, d.Endpoint.SlaveID,
		d.Endpoint.Register, d.Endpoint.RegisterCount, d.Unit,
		d.SamplingInterval, d.RetentionDays, d.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s", ErrDeviceExists, d.Name)
		}
		return fmt.Errorf("updating device: %w", err)
	}
	return requireRowAffected(result)
}

// Delete removes a device. Readings and notification references cascade
// at the schema level.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM devices WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	return requireRowAffected(result)
}

// UpdateStatus persists a status transition.
func (r *PostgresRepository) UpdateStatus(ctx context.Context, id string, status Status, lastSuccessAt *time.Time) error {
	var (
		result sql.Result
		err    error
	)
	now := time.Now().UTC()
	if lastSuccessAt != nil {
		result, err = r.db.ExecContext(ctx, `
			UPDATE devices
			SET status = $2, last_success_at = $3, updated_at = $4
			WHERE id = $1`, id, status, *lastSuccessAt, now)
	} else {
		result, err = r.db.ExecContext(ctx, `
			UPDATE devices
			SET status = $2, updated_at = $3
			WHERE id = $1`, id, status, now)
	}
	if err != nil {
		return fmt.Errorf("updating device status: %w", err)
	}
	return requireRowAffected(result)
}

// scanner abstracts sql.Row and sql.Rows for scanDevice.
type scanner interface {
	Scan(dest ...any) error
}

// scanDevice reads a device row in deviceColumns order.
func scanDevice(s scanner) (*Device, error) {
	var (
		d             Device
		lastSuccessAt sql.NullTime
	)
	err := s.Scan(
		&d.ID, &d.Name, &d.Endpoint.IP, &d.Endpoint.Port, &d.Endpoint.SlaveID,
		&d.Endpoint.Register, &d.Endpoint.RegisterCount, &d.Unit,
		&d.SamplingInterval, &d.RetentionDays, &d.Status, &lastSuccessAt,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lastSuccessAt.Valid {
		t := lastSuccessAt.Time
		d.LastSuccessAt = &t
	}
	return &d, nil
}

// requireRowAffected converts a zero-row update into ErrDeviceNotFound.
func requireRowAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}
