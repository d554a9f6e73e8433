package device

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
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

// lastReading holds the most recent successful measurement for a device.
type lastReading struct {
	value     float64
	timestamp time.Time
}

// Registry provides device management with caching and thread safety.
// It wraps a Repository and adds an in-memory cache for fast lookups,
// plus a live view of each device's latest reading for the real-time
// snapshot broadcast.
//
// The cache is populated on startup via RefreshCache() and kept in sync
// by cache-invalidating CRUD operations.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	cache   map[string]*Device     // Cached devices by ID
	latest  map[string]lastReading // Most recent value by device ID
	cacheMu sync.RWMutex           // Protects cache and latest
	logger  Logger
}

// NewRegistry creates a new device registry.
// The repository is used for persistence; the registry adds caching.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*Device),
		latest: make(map[string]lastReading),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all devices from the repository into the cache.
// This should be called on application startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	// Clear and rebuild cache with deep copies
	r.cache = make(map[string]*Device, len(devices))
	for i := range devices {
		d := devices[i]
		r.cache[d.ID] = d.DeepCopy()
	}

	// Drop live readings for devices that no longer exist.
	for id := range r.latest {
		if _, ok := r.cache[id]; !ok {
			delete(r.latest, id)
		}
	}

	r.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

// GetDevice retrieves a device by ID.
// Returns ErrDeviceNotFound if the device does not exist.
// The returned device is a deep copy; callers can safely modify it.
func (r *Registry) GetDevice(ctx context.Context, id string) (*Device, error) {
	// Try cache first
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()

	if ok {
		return cached.DeepCopy(), nil
	}

	// Fall back to repository (might be a new device not yet cached)
	d, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	r.cache[d.ID] = d.DeepCopy()
	r.cacheMu.Unlock()

	return d, nil
}

// ListDevices retrieves all devices.
// The returned devices are deep copies; callers can safely modify them.
func (r *Registry) ListDevices(ctx context.Context) ([]Device, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	// Return from cache if populated
	if len(r.cache) > 0 {
		devices := make([]Device, 0, len(r.cache))
		for _, d := range r.cache {
			devices = append(devices, *d.DeepCopy())
		}
		return devices, nil
	}

	// Fall back to repository
	return r.repo.List(ctx)
}

// CreateDevice creates a new device.
// It validates the device, generates an ID if needed, and persists it.
func (r *Registry) CreateDevice(ctx context.Context, d *Device) error {
	if d.ID == "" {
		d.ID = GenerateID()
	}
	if d.Status == "" {
		d.Status = StatusOffline
	}

	if err := ValidateDevice(d); err != nil {
		return err
	}

	if err := r.repo.Create(ctx, d); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[d.ID] = d.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("device created", "id", d.ID, "name", d.Name)
	return nil
}

// UpdateDevice updates an existing device.
// It validates the device and persists the changes.
func (r *Registry) UpdateDevice(ctx context.Context, d *Device) error {
	existing, err := r.GetDevice(ctx, d.ID)
	if err != nil {
		return err
	}
	// Status and success timestamp are owned by the poller; preserve
	// them through configuration edits.
	d.Status = existing.Status
	d.LastSuccessAt = existing.LastSuccessAt
	d.CreatedAt = existing.CreatedAt

	if err := ValidateDevice(d); err != nil {
		return err
	}

	if err := r.repo.Update(ctx, d); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[d.ID] = d.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("device updated", "id", d.ID, "name", d.Name)
	return nil
}

// DeleteDevice removes a device.
func (r *Registry) DeleteDevice(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, id)
	delete(r.latest, id)
	r.cacheMu.Unlock()

	r.logger.Info("device deleted", "id", id)
	return nil
}

// SetStatus updates a device's connectivity status.
// lastSuccessAt should be non-nil only for transitions caused by a
// successful read.
func (r *Registry) SetStatus(ctx context.Context, id string, status Status, lastSuccessAt *time.Time) error {
	if err := r.repo.UpdateStatus(ctx, id, status, lastSuccessAt); err != nil {
		return err
	}

	r.cacheMu.Lock()
	if cached, ok := r.cache[id]; ok {
		// Atomic replacement so readers never see a half-updated device.
		updated := cached.DeepCopy()
		updated.Status = status
		if lastSuccessAt != nil {
			t := *lastSuccessAt
			updated.LastSuccessAt = &t
		}
		updated.UpdatedAt = time.Now().UTC()
		r.cache[id] = updated
	}
	r.cacheMu.Unlock()

	r.logger.Debug("device status updated", "id", id, "status", status)
	return nil
}

// RecordReading stores the latest measurement for a device in the live
// view. It does not touch the repository; reading persistence is the
// reading store's job.
func (r *Registry) RecordReading(id string, value float64, timestamp time.Time) {
	r.cacheMu.Lock()
	r.latest[id] = lastReading{value: value, timestamp: timestamp}
	r.cacheMu.Unlock()
}

// LatestReading returns the most recent value recorded for a device.
// The second return is false when no reading has been recorded since
// startup.
func (r *Registry) LatestReading(id string) (float64, time.Time, bool) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	lr, ok := r.latest[id]
	return lr.value, lr.timestamp, ok
}

// Snapshots returns the current state of every device for the periodic
// real-time broadcast: status plus the latest in-memory reading.
func (r *Registry) Snapshots() []Snapshot {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	snapshots := make([]Snapshot, 0, len(r.cache))
	for id, d := range r.cache {
		snap := Snapshot{
			DeviceID: id,
			Name:     d.Name,
			Status:   d.Status,
			Unit:     d.Unit,
		}
		if lr, ok := r.latest[id]; ok {
			v := lr.value
			t := lr.timestamp
			snap.Value = &v
			snap.Timestamp = &t
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots
}

// DeviceCount returns the number of cached devices.
func (r *Registry) DeviceCount() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}

// Stats returns registry statistics for monitoring.
type Stats struct {
	TotalDevices int
	ByStatus     map[Status]int
}

// GetStats returns current registry statistics.
func (r *Registry) GetStats() Stats {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	stats := Stats{
		TotalDevices: len(r.cache),
		ByStatus:     make(map[Status]int),
	}
	for _, d := range r.cache {
		stats.ByStatus[d.Status]++
	}
	return stats
}
