package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/denh4m/ddms-core/internal/device"
	"github.com/denh4m/ddms-core/internal/modbus"
)

// Logger defines the logging interface used by the Scheduler.
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

// Prober reads a single measurement from a device endpoint.
// *modbus.Client satisfies this; tests substitute fakes.
type Prober interface {
	Read(ctx context.Context, target modbus.Target) (float64, error)
}

// ReadingStore receives successful measurements for persistence.
type ReadingStore interface {
	Append(ctx context.Context, deviceID string, value float64, timestamp time.Time) error
}

// Registry is the slice of the device registry the scheduler needs.
type Registry interface {
	ListDevices(ctx context.Context) ([]device.Device, error)
	SetStatus(ctx context.Context, id string, status device.Status, lastSuccessAt *time.Time) error
	RecordReading(id string, value float64, timestamp time.Time)
}

// Config holds the per-attempt polling policy. The same policy applies
// to every device; only the sampling interval is per-device.
type Config struct {
	// RetryLimit is the maximum attempts per poll cycle.
	RetryLimit int

	// RetryDelay is the pause between attempts within a cycle.
	RetryDelay time.Duration

	// AttemptTimeout bounds a single read attempt.
	AttemptTimeout time.Duration
}

// TargetFor maps a device's endpoint configuration onto a Modbus target.
func TargetFor(d device.Device) modbus.Target {
	return modbus.Target{
		Host:     d.Endpoint.IP,
		Port:     d.Endpoint.Port,
		SlaveID:  byte(d.Endpoint.SlaveID),
		Register: uint16(d.Endpoint.Register),
		Count:    uint16(d.Endpoint.RegisterCount),
	}
}

// loop tracks one device's polling goroutine.
type loop struct {
	cancel context.CancelFunc
	dev    device.Device
}

// Scheduler runs one polling loop per device.
//
// Each device gets its own goroutine ticking at the device's sampling
// interval, so a slow or dead device never delays its neighbours. A
// cycle performs up to RetryLimit read attempts, classifies the
// outcome, persists the reading and status, and publishes transition
// events for the notification engine and the real-time distributor.
//
// Thread Safety: Add, Remove, Update and Stop may be called
// concurrently with running loops.
type Scheduler struct {
	cfg      Config
	prober   Prober
	registry Registry
	store    ReadingStore
	events   chan<- TransitionEvent
	logger   Logger

	mu     sync.Mutex
	loops  map[string]*loop
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a polling scheduler.
//
// Parameters:
//   - cfg: retry policy shared by all devices.
//   - prober: protocol client performing the reads.
//   - registry: device registry for status updates and live readings.
//   - store: reading persistence.
//   - events: channel receiving transition events. Sends never block;
//     events are dropped with a warning when the channel is full.
//   - logger: structured logger (nil for no logging).
func NewScheduler(cfg Config, prober Prober, registry Registry, store ReadingStore, events chan<- TransitionEvent, logger Logger) *Scheduler {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Scheduler{
		cfg:      cfg,
		prober:   prober,
		registry: registry,
		store:    store,
		events:   events,
		logger:   logger,
		loops:    make(map[string]*loop),
	}
}

// Start loads all devices from the registry and begins polling them.
// Polling continues until Stop is called or ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.ctx != nil {
		s.mu.Unlock()
		return errors.New("poller: scheduler already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	devices, err := s.registry.ListDevices(ctx)
	if err != nil {
		return fmt.Errorf("loading devices for polling: %w", err)
	}

	for _, d := range devices {
		s.Add(d)
	}

	s.logger.Info("polling started", "devices", len(devices))
	return nil
}

// Stop cancels every polling loop and waits for them to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("polling stopped")
}

// Add starts a polling loop for a device. Adding a device that is
// already polled restarts its loop with the new configuration.
func (s *Scheduler) Add(d device.Device) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx == nil || s.ctx.Err() != nil {
		return
	}

	if existing, ok := s.loops[d.ID]; ok {
		existing.cancel()
	}

	ctx, cancel := context.WithCancel(s.ctx)
	s.loops[d.ID] = &loop{cancel: cancel, dev: d}

	s.wg.Add(1)
	go s.run(ctx, d)

	s.logger.Debug("polling loop added", "device_id", d.ID, "interval_s", d.SamplingInterval)
}

// Remove stops polling a device. In-flight attempts are cancelled and
// their results discarded.
func (s *Scheduler) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, ok := s.loops[id]; ok {
		l.cancel()
		delete(s.loops, id)
		s.logger.Debug("polling loop removed", "device_id", id)
	}
}

// Update restarts a device's loop so endpoint or interval changes take
// effect from the next cycle.
func (s *Scheduler) Update(d device.Device) {
	s.Add(d)
}

// Polling reports whether a device currently has a loop.
func (s *Scheduler) Polling(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.loops[id]
	return ok
}

// run is the per-device polling loop. The first cycle fires
// immediately so newly added devices produce data without waiting a
// full interval.
func (s *Scheduler) run(ctx context.Context, d device.Device) {
	defer s.wg.Done()

	// The in-memory state starts unset regardless of what the registry
	// holds, so a device that is unreachable on the very first cycle
	// still raises a disconnect. Re-alerts after a restart collapse
	// into the notification dedup window.
	status := device.StatusUnset
	lastSuccess := d.LastSuccessAt

	interval := time.Duration(d.SamplingInterval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	status, lastSuccess = s.cycle(ctx, d, status, lastSuccess)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status, lastSuccess = s.cycle(ctx, d, status, lastSuccess)
		}
	}
}

// cycle runs one poll cycle and returns the resulting status along with
// the time of the most recent successful read.
func (s *Scheduler) cycle(ctx context.Context, d device.Device, prev device.Status, lastSuccess *time.Time) (device.Status, *time.Time) {
	if ctx.Err() != nil {
		return prev, lastSuccess
	}

	target := TargetFor(d)
	outcome := OutcomeConnectionFailure
	var (
		value    float64
		lastErr  error
		attempts int
	)

	for attempt := 1; attempt <= s.cfg.RetryLimit; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.AttemptTimeout)
		v, err := s.prober.Read(attemptCtx, target)
		cancel()
		attempts = attempt

		if err == nil {
			outcome = OutcomeSuccess
			value = v
			break
		}
		lastErr = err

		if isProtocolError(err) {
			// The device answered; more attempts won't help.
			outcome = OutcomeProtocolError
			break
		}

		s.logger.Debug("poll attempt failed",
			"device_id", d.ID,
			"attempt", attempt,
			"error", err,
		)

		if attempt < s.cfg.RetryLimit {
			select {
			case <-ctx.Done():
				return prev, lastSuccess
			case <-time.After(s.cfg.RetryDelay):
			}
		}
	}

	// The loop was cancelled mid-cycle: discard whatever happened.
	if ctx.Err() != nil {
		return prev, lastSuccess
	}

	now := time.Now().UTC()
	next, event := Transition(prev, outcome)

	switch outcome {
	case OutcomeSuccess:
		if err := s.store.Append(ctx, d.ID, value, now); err != nil {
			s.logger.Error("storing reading failed", "device_id", d.ID, "error", err)
		}
		s.registry.RecordReading(d.ID, value, now)
		if err := s.registry.SetStatus(ctx, d.ID, next, &now); err != nil {
			s.logger.Error("status update failed", "device_id", d.ID, "error", err)
		}
		lastSuccess = &now

	default:
		if next != prev {
			if err := s.registry.SetStatus(ctx, d.ID, next, nil); err != nil {
				s.logger.Error("status update failed", "device_id", d.ID, "error", err)
			}
			s.logger.Warn("device transition",
				"device_id", d.ID,
				"from", prev,
				"to", next,
				"error", lastErr,
			)
		}
	}

	if event != EventNone {
		ev := TransitionEvent{
			DeviceID:      d.ID,
			DeviceName:    d.Name,
			Endpoint:      target.Addr(),
			From:          prev,
			To:            next,
			Event:         event,
			Timestamp:     now,
			Reason:        reasonString(lastErr),
			LastSuccessAt: lastSuccess,
		}
		if event == EventDisconnect {
			ev.FailureCount = attempts
		}
		s.publish(ev)
	}

	return next, lastSuccess
}

// publish sends a transition event without blocking the polling loop.
func (s *Scheduler) publish(ev TransitionEvent) {
	select {
	case s.events <- ev:
	default:
		s.logger.Warn("transition event dropped, channel full",
			"device_id", ev.DeviceID,
			"event", ev.Event.String(),
		)
	}
}

// isProtocolError reports whether the error is terminal for this cycle:
// the device is reachable but the exchange cannot succeed.
func isProtocolError(err error) bool {
	var exc *modbus.ExceptionError
	if errors.As(err, &exc) {
		return true
	}
	return errors.Is(err, modbus.ErrInvalidResponse) ||
		errors.Is(err, modbus.ErrUnsupportedCount)
}

func reasonString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
