package device

import (
	"context"
	"errors"
	"testing"
	"time"
)

// mockRepository is an in-memory Repository for testing.
type mockRepository struct {
	devices map[string]*Device

	// Error injection
	createErr error
	listErr   error
	updateErr error
}

func newMockRepository() *mockRepository {
	return &mockRepository{devices: make(map[string]*Device)}
}

func (m *mockRepository) Create(ctx context.Context, d *Device) error {
	if m.createErr != nil {
		return m.createErr
	}
	if _, exists := m.devices[d.ID]; exists {
		return ErrDeviceExists
	}
	m.devices[d.ID] = d.DeepCopy()
	return nil
}

func (m *mockRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	d, ok := m.devices[id]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	return d.DeepCopy(), nil
}

func (m *mockRepository) List(ctx context.Context) ([]Device, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	devices := make([]Device, 0, len(m.devices))
	for _, d := range m.devices {
		devices = append(devices, *d.DeepCopy())
	}
	return devices, nil
}

func (m *mockRepository) Update(ctx context.Context, d *Device) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	if _, ok := m.devices[d.ID]; !ok {
		return ErrDeviceNotFound
	}
	m.devices[d.ID] = d.DeepCopy()
	return nil
}

func (m *mockRepository) Delete(ctx context.Context, id string) error {
	if _, ok := m.devices[id]; !ok {
		return ErrDeviceNotFound
	}
	delete(m.devices, id)
	return nil
}

func (m *mockRepository) UpdateStatus(ctx context.Context, id string, status Status, lastSuccessAt *time.Time) error {
	d, ok := m.devices[id]
	if !ok {
		return ErrDeviceNotFound
	}
	d.Status = status
	if lastSuccessAt != nil {
		t := *lastSuccessAt
		d.LastSuccessAt = &t
	}
	return nil
}

// testDevice returns a valid device for tests.
func testDevice(name string) *Device {
	return &Device{
		Name: name,
		Endpoint: Endpoint{
			IP:            "192.168.1.50",
			Port:          502,
			SlaveID:       1,
			Register:      100,
			RegisterCount: 2,
		},
		Unit:             "°C",
		SamplingInterval: 30,
		RetentionDays:    90,
	}
}

func TestRegistry_CreateDevice(t *testing.T) {
	repo := newMockRepository()
	registry := NewRegistry(repo)

	d := testDevice("boiler-flow-temp")
	if err := registry.CreateDevice(context.Background(), d); err != nil {
		t.Fatalf("CreateDevice() error: %v", err)
	}

	if d.ID == "" {
		t.Error("CreateDevice() did not generate an ID")
	}
	if d.Status != StatusOffline {
		t.Errorf("new device status = %q, want OFFLINE", d.Status)
	}

	got, err := registry.GetDevice(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("GetDevice() error: %v", err)
	}
	if got.Name != "boiler-flow-temp" {
		t.Errorf("device name = %q, want boiler-flow-temp", got.Name)
	}
}

func TestRegistry_CreateDevice_ValidationFailure(t *testing.T) {
	registry := NewRegistry(newMockRepository())

	d := testDevice("bad-interval")
	d.SamplingInterval = 0

	err := registry.CreateDevice(context.Background(), d)
	if !errors.Is(err, ErrInvalidInterval) {
		t.Errorf("CreateDevice() error = %v, want ErrInvalidInterval", err)
	}
}

func TestRegistry_GetDevice_NotFound(t *testing.T) {
	registry := NewRegistry(newMockRepository())

	_, err := registry.GetDevice(context.Background(), "nope")
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("GetDevice() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestRegistry_GetDevice_ReturnsCopy(t *testing.T) {
	registry := NewRegistry(newMockRepository())

	d := testDevice("copy-check")
	if err := registry.CreateDevice(context.Background(), d); err != nil {
		t.Fatalf("CreateDevice() error: %v", err)
	}

	first, _ := registry.GetDevice(context.Background(), d.ID)
	first.Name = "mutated"

	second, _ := registry.GetDevice(context.Background(), d.ID)
	if second.Name != "copy-check" {
		t.Error("cache mutated through returned device")
	}
}

func TestRegistry_UpdateDevice_PreservesPollerFields(t *testing.T) {
	repo := newMockRepository()
	registry := NewRegistry(repo)

	d := testDevice("sensor-a")
	if err := registry.CreateDevice(context.Background(), d); err != nil {
		t.Fatalf("CreateDevice() error: %v", err)
	}

	success := time.Now().UTC()
	if err := registry.SetStatus(context.Background(), d.ID, StatusOnline, &success); err != nil {
		t.Fatalf("SetStatus() error: %v", err)
	}

	edited := testDevice("sensor-a-renamed")
	edited.ID = d.ID
	edited.Status = StatusError // attempt to override must be ignored
	if err := registry.UpdateDevice(context.Background(), edited); err != nil {
		t.Fatalf("UpdateDevice() error: %v", err)
	}

	got, _ := registry.GetDevice(context.Background(), d.ID)
	if got.Status != StatusOnline {
		t.Errorf("status after update = %q, want ONLINE", got.Status)
	}
	if got.LastSuccessAt == nil || !got.LastSuccessAt.Equal(success) {
		t.Errorf("last_success_at = %v, want %v", got.LastSuccessAt, success)
	}
	if got.Name != "sensor-a-renamed" {
		t.Errorf("name = %q, want sensor-a-renamed", got.Name)
	}
}

func TestRegistry_DeleteDevice(t *testing.T) {
	registry := NewRegistry(newMockRepository())

	d := testDevice("short-lived")
	if err := registry.CreateDevice(context.Background(), d); err != nil {
		t.Fatalf("CreateDevice() error: %v", err)
	}
	registry.RecordReading(d.ID, 21.5, time.Now())

	if err := registry.DeleteDevice(context.Background(), d.ID); err != nil {
		t.Fatalf("DeleteDevice() error: %v", err)
	}

	if _, err := registry.GetDevice(context.Background(), d.ID); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("GetDevice() after delete error = %v, want ErrDeviceNotFound", err)
	}
	if _, _, ok := registry.LatestReading(d.ID); ok {
		t.Error("LatestReading() still present after delete")
	}
}

func TestRegistry_RefreshCache(t *testing.T) {
	repo := newMockRepository()
	for _, name := range []string{"a", "b", "c"} {
		d := testDevice(name)
		d.ID = GenerateID()
		repo.devices[d.ID] = d
	}

	registry := NewRegistry(repo)
	if err := registry.RefreshCache(context.Background()); err != nil {
		t.Fatalf("RefreshCache() error: %v", err)
	}

	if got := registry.DeviceCount(); got != 3 {
		t.Errorf("DeviceCount() = %d, want 3", got)
	}
}

func TestRegistry_RefreshCache_RepositoryError(t *testing.T) {
	repo := newMockRepository()
	repo.listErr = errors.New("db down")

	registry := NewRegistry(repo)
	if err := registry.RefreshCache(context.Background()); err == nil {
		t.Error("RefreshCache() expected error, got nil")
	}
}

func TestRegistry_Snapshots(t *testing.T) {
	registry := NewRegistry(newMockRepository())

	d1 := testDevice("with-reading")
	d2 := testDevice("no-reading")
	for _, d := range []*Device{d1, d2} {
		if err := registry.CreateDevice(context.Background(), d); err != nil {
			t.Fatalf("CreateDevice() error: %v", err)
		}
	}

	ts := time.Now().UTC()
	registry.RecordReading(d1.ID, 42.5, ts)

	snapshots := registry.Snapshots()
	if len(snapshots) != 2 {
		t.Fatalf("Snapshots() returned %d entries, want 2", len(snapshots))
	}

	byID := make(map[string]Snapshot, len(snapshots))
	for _, s := range snapshots {
		byID[s.DeviceID] = s
	}

	withReading := byID[d1.ID]
	if withReading.Value == nil || *withReading.Value != 42.5 {
		t.Errorf("snapshot value = %v, want 42.5", withReading.Value)
	}
	if withReading.Timestamp == nil || !withReading.Timestamp.Equal(ts) {
		t.Errorf("snapshot timestamp = %v, want %v", withReading.Timestamp, ts)
	}

	noReading := byID[d2.ID]
	if noReading.Value != nil {
		t.Errorf("snapshot value = %v, want nil for device without readings", noReading.Value)
	}
}

func TestRegistry_SetStatus_KeepsLastSuccess(t *testing.T) {
	registry := NewRegistry(newMockRepository())

	d := testDevice("flapper")
	if err := registry.CreateDevice(context.Background(), d); err != nil {
		t.Fatalf("CreateDevice() error: %v", err)
	}

	success := time.Now().UTC().Add(-time.Minute)
	if err := registry.SetStatus(context.Background(), d.ID, StatusOnline, &success); err != nil {
		t.Fatalf("SetStatus(ONLINE) error: %v", err)
	}
	if err := registry.SetStatus(context.Background(), d.ID, StatusOffline, nil); err != nil {
		t.Fatalf("SetStatus(OFFLINE) error: %v", err)
	}

	got, _ := registry.GetDevice(context.Background(), d.ID)
	if got.Status != StatusOffline {
		t.Errorf("status = %q, want OFFLINE", got.Status)
	}
	if got.LastSuccessAt == nil || !got.LastSuccessAt.Equal(success) {
		t.Errorf("last_success_at = %v, want %v preserved", got.LastSuccessAt, success)
	}
}
