package poller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/denh4m/ddms-core/internal/device"
	"github.com/denh4m/ddms-core/internal/modbus"
)

// fakeProber scripts read results per call.
type fakeProber struct {
	mu     sync.Mutex
	calls  int
	readFn func(call int) (float64, error)
}

func (f *fakeProber) Read(ctx context.Context, target modbus.Target) (float64, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	return f.readFn(call)
}

func (f *fakeProber) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeStore records appended readings and signals each append.
type fakeStore struct {
	mu       sync.Mutex
	readings []float64
	appended chan struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{appended: make(chan struct{}, 16)}
}

func (f *fakeStore) Append(ctx context.Context, deviceID string, value float64, ts time.Time) error {
	f.mu.Lock()
	f.readings = append(f.readings, value)
	f.mu.Unlock()
	f.appended <- struct{}{}
	return nil
}

func (f *fakeStore) values() []float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]float64(nil), f.readings...)
}

// statusChange records one SetStatus call.
type statusChange struct {
	status        device.Status
	lastSuccessAt *time.Time
}

// fakeRegistry serves a fixed device list and records status updates.
type fakeRegistry struct {
	mu      sync.Mutex
	devices []device.Device
	changes []statusChange
	changed chan struct{}
}

func newFakeRegistry(devices ...device.Device) *fakeRegistry {
	return &fakeRegistry{devices: devices, changed: make(chan struct{}, 16)}
}

func (f *fakeRegistry) ListDevices(ctx context.Context) ([]device.Device, error) {
	return f.devices, nil
}

func (f *fakeRegistry) SetStatus(ctx context.Context, id string, status device.Status, lastSuccessAt *time.Time) error {
	f.mu.Lock()
	f.changes = append(f.changes, statusChange{status: status, lastSuccessAt: lastSuccessAt})
	f.mu.Unlock()
	f.changed <- struct{}{}
	return nil
}

func (f *fakeRegistry) RecordReading(id string, value float64, ts time.Time) {}

func (f *fakeRegistry) lastChange() (statusChange, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.changes) == 0 {
		return statusChange{}, false
	}
	return f.changes[len(f.changes)-1], true
}

func pollDevice(status device.Status) device.Device {
	return device.Device{
		ID:   "dev-1",
		Name: "intake-temp",
		Endpoint: device.Endpoint{
			IP: "127.0.0.1", Port: 502, SlaveID: 1, Register: 0, RegisterCount: 1,
		},
		SamplingInterval: 1,
		Status:           status,
	}
}

func testConfig() Config {
	return Config{
		RetryLimit:     3,
		RetryDelay:     time.Millisecond,
		AttemptTimeout: 100 * time.Millisecond,
	}
}

func waitSignal(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestScheduler_RetryThenSuccess(t *testing.T) {
	// First two attempts time out, third succeeds. The device stays
	// ONLINE and the reading is stored; no transition event fires.
	prober := &fakeProber{readFn: func(call int) (float64, error) {
		if call < 3 {
			return 0, modbus.ErrTimeout
		}
		return 23.5, nil
	}}
	store := newFakeStore()
	registry := newFakeRegistry(pollDevice(device.StatusOnline))
	events := make(chan TransitionEvent, 8)

	s := NewScheduler(testConfig(), prober, registry, store, events, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer s.Stop()

	waitSignal(t, store.appended, "reading append")

	if got := store.values(); len(got) != 1 || got[0] != 23.5 {
		t.Errorf("stored readings = %v, want [23.5]", got)
	}
	if n := prober.callCount(); n != 3 {
		t.Errorf("attempts = %d, want 3", n)
	}
	select {
	case ev := <-events:
		t.Errorf("unexpected transition event: %+v", ev)
	default:
	}
}

func TestScheduler_AllAttemptsFail_Disconnect(t *testing.T) {
	prober := &fakeProber{readFn: func(call int) (float64, error) {
		return 0, modbus.ErrConnectionFailed
	}}
	store := newFakeStore()
	lastSeen := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	dev := pollDevice(device.StatusOnline)
	dev.LastSuccessAt = &lastSeen
	registry := newFakeRegistry(dev)
	events := make(chan TransitionEvent, 8)

	s := NewScheduler(testConfig(), prober, registry, store, events, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer s.Stop()

	waitSignal(t, registry.changed, "status update")

	change, ok := registry.lastChange()
	if !ok || change.status != device.StatusOffline {
		t.Errorf("status = %v, want OFFLINE", change.status)
	}
	if change.lastSuccessAt != nil {
		t.Error("offline transition must not touch last_success_at")
	}

	select {
	case ev := <-events:
		if ev.Event != EventDisconnect {
			t.Errorf("event = %v, want disconnect", ev.Event)
		}
		if ev.To != device.StatusOffline {
			t.Errorf("transition to %s, want OFFLINE", ev.To)
		}
		if ev.Reason == "" {
			t.Error("disconnect event missing reason")
		}
		if ev.Endpoint != "127.0.0.1:502" {
			t.Errorf("endpoint = %q, want 127.0.0.1:502", ev.Endpoint)
		}
		if ev.FailureCount != 3 {
			t.Errorf("failure count = %d, want 3", ev.FailureCount)
		}
		if ev.LastSuccessAt == nil || !ev.LastSuccessAt.Equal(lastSeen) {
			t.Errorf("last success = %v, want %v", ev.LastSuccessAt, lastSeen)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no disconnect event published")
	}
}

func TestScheduler_FreshDeviceUnreachable_Alerts(t *testing.T) {
	// A device that has never answered must still raise a disconnect
	// on its very first failing cycle.
	prober := &fakeProber{readFn: func(call int) (float64, error) {
		return 0, modbus.ErrConnectionFailed
	}}
	store := newFakeStore()
	registry := newFakeRegistry(pollDevice(device.StatusUnset))
	events := make(chan TransitionEvent, 8)

	s := NewScheduler(testConfig(), prober, registry, store, events, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer s.Stop()

	select {
	case ev := <-events:
		if ev.Event != EventDisconnect {
			t.Errorf("event = %v, want disconnect", ev.Event)
		}
		if ev.From != device.StatusUnset || ev.To != device.StatusOffline {
			t.Errorf("transition %q->%q, want unset->OFFLINE", ev.From, ev.To)
		}
		if ev.LastSuccessAt != nil {
			t.Errorf("last success = %v, want nil for a never-polled device", ev.LastSuccessAt)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no disconnect event for a fresh unreachable device")
	}
}

func TestScheduler_Reconnect(t *testing.T) {
	// The first cycle exhausts its attempts and goes OFFLINE, the
	// second succeeds and raises a reconnect.
	prober := &fakeProber{readFn: func(call int) (float64, error) {
		if call <= 3 {
			return 0, modbus.ErrConnectionFailed
		}
		return 7, nil
	}}
	store := newFakeStore()
	registry := newFakeRegistry(pollDevice(device.StatusOffline))
	events := make(chan TransitionEvent, 8)

	s := NewScheduler(testConfig(), prober, registry, store, events, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer s.Stop()

	select {
	case ev := <-events:
		if ev.Event != EventDisconnect {
			t.Fatalf("first event = %v, want disconnect", ev.Event)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no disconnect event published")
	}

	waitSignal(t, store.appended, "reading append")

	select {
	case ev := <-events:
		if ev.Event != EventReconnect {
			t.Errorf("event = %v, want reconnect", ev.Event)
		}
		if ev.From != device.StatusOffline || ev.To != device.StatusOnline {
			t.Errorf("transition %s->%s, want OFFLINE->ONLINE", ev.From, ev.To)
		}
		if ev.FailureCount != 0 {
			t.Errorf("failure count = %d, want 0 on reconnect", ev.FailureCount)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reconnect event published")
	}

	change, _ := registry.lastChange()
	if change.status != device.StatusOnline {
		t.Errorf("status = %v, want ONLINE", change.status)
	}
	if change.lastSuccessAt == nil {
		t.Error("successful cycle must set last_success_at")
	}
}

func TestScheduler_ProtocolError_ShortCircuits(t *testing.T) {
	prober := &fakeProber{readFn: func(call int) (float64, error) {
		return 0, &modbus.ExceptionError{Code: 0x02}
	}}
	store := newFakeStore()
	registry := newFakeRegistry(pollDevice(device.StatusOnline))
	events := make(chan TransitionEvent, 8)

	s := NewScheduler(testConfig(), prober, registry, store, events, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer s.Stop()

	waitSignal(t, registry.changed, "status update")

	// A protocol error is terminal: no retries within the cycle.
	if n := prober.callCount(); n != 1 {
		t.Errorf("attempts = %d, want 1 (no retries after exception)", n)
	}

	change, _ := registry.lastChange()
	if change.status != device.StatusError {
		t.Errorf("status = %v, want ERROR", change.status)
	}

	select {
	case ev := <-events:
		if ev.Event != EventDisconnect {
			t.Errorf("event = %v, want disconnect", ev.Event)
		}
		if ev.To != device.StatusError {
			t.Errorf("transition to %s, want ERROR", ev.To)
		}
		if ev.FailureCount != 1 {
			t.Errorf("failure count = %d, want 1", ev.FailureCount)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no disconnect event for protocol error")
	}
}

func TestScheduler_ErrorThenSuccess_Reconnect(t *testing.T) {
	// First cycle hits an exception and lands in ERROR; the next cycle
	// succeeds and must raise a reconnect.
	prober := &fakeProber{readFn: func(call int) (float64, error) {
		if call == 1 {
			return 0, &modbus.ExceptionError{Code: 0x02}
		}
		return 19.5, nil
	}}
	store := newFakeStore()
	registry := newFakeRegistry(pollDevice(device.StatusOnline))
	events := make(chan TransitionEvent, 8)

	s := NewScheduler(testConfig(), prober, registry, store, events, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer s.Stop()

	select {
	case ev := <-events:
		if ev.Event != EventDisconnect || ev.To != device.StatusError {
			t.Fatalf("first event = %+v, want disconnect to ERROR", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no disconnect event for protocol error")
	}

	select {
	case ev := <-events:
		if ev.Event != EventReconnect {
			t.Errorf("event = %v, want reconnect", ev.Event)
		}
		if ev.From != device.StatusError || ev.To != device.StatusOnline {
			t.Errorf("transition %s->%s, want ERROR->ONLINE", ev.From, ev.To)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reconnect event after recovery")
	}
}

func TestScheduler_RemoveStopsPolling(t *testing.T) {
	prober := &fakeProber{readFn: func(call int) (float64, error) {
		return 1, nil
	}}
	store := newFakeStore()
	registry := newFakeRegistry(pollDevice(device.StatusOnline))
	events := make(chan TransitionEvent, 8)

	s := NewScheduler(testConfig(), prober, registry, store, events, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer s.Stop()

	waitSignal(t, store.appended, "first reading")

	s.Remove("dev-1")
	if s.Polling("dev-1") {
		t.Error("Polling() = true after Remove")
	}
}

func TestScheduler_StartTwice(t *testing.T) {
	prober := &fakeProber{readFn: func(call int) (float64, error) { return 1, nil }}
	registry := newFakeRegistry()
	s := NewScheduler(testConfig(), prober, registry, newFakeStore(), make(chan TransitionEvent, 1), nil)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer s.Stop()

	if err := s.Start(context.Background()); err == nil {
		t.Error("second Start() expected error")
	}
}
