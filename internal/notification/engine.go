package notification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/denh4m/ddms-core/internal/poller"
)

// Logger defines the logging interface used by the Engine.
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

// RecipientSource resolves which users receive device notifications.
// In practice this is every OWNER and ADMIN account.
type RecipientSource interface {
	NotificationRecipients(ctx context.Context) ([]string, error)
}

// Pusher delivers a notification to a connected user in real time.
// Implemented by the websocket hub; delivery is best-effort.
type Pusher interface {
	PushNotification(userID string, n Notification)
}

// EventPublisher mirrors device transitions onto an external bus.
// Implemented by the MQTT client when enabled.
type EventPublisher interface {
	PublishTransition(ev poller.TransitionEvent)
}

// Engine turns device transition events into stored notifications.
//
// It consumes the scheduler's event channel in a single goroutine, so
// per-device event ordering is preserved. A failure handling one event
// is logged and does not stop the engine.
//
// Disconnects are deduplicated: if the same device already raised a
// disconnect within the dedup window, the new event creates nothing.
// Reconnects always notify.
type Engine struct {
	repo       Repository
	recipients RecipientSource
	window     time.Duration
	logger     Logger

	pusher Pusher
	buses  []EventPublisher

	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewEngine creates a notification engine.
//
// Parameters:
//   - repo: notification persistence.
//   - recipients: resolves notification recipients per event.
//   - window: disconnect dedup window.
//   - logger: structured logger (nil for no logging).
func NewEngine(repo Repository, recipients RecipientSource, window time.Duration, logger Logger) *Engine {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Engine{
		repo:       repo,
		recipients: recipients,
		window:     window,
		logger:     logger,
	}
}

// SetPusher attaches real-time delivery. Call before Start.
func (e *Engine) SetPusher(p Pusher) {
	e.pusher = p
}

// AddEventBus attaches an external event mirror. Call before Start.
func (e *Engine) AddEventBus(b EventPublisher) {
	e.buses = append(e.buses, b)
}

// Start consumes events until the channel closes or ctx is cancelled.
func (e *Engine) Start(ctx context.Context, events <-chan poller.TransitionEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return
	}

	ctx, e.cancel = context.WithCancel(ctx)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				e.handle(ctx, ev)
			}
		}
	}()
}

// Stop halts event consumption and waits for in-flight handling.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.wg.Wait()
}

// handle processes one transition event. Errors are logged, never fatal.
func (e *Engine) handle(ctx context.Context, ev poller.TransitionEvent) {
	for _, bus := range e.buses {
		bus.PublishTransition(ev)
	}

	userIDs, err := e.recipients.NotificationRecipients(ctx)
	if err != nil {
		e.logger.Error("resolving notification recipients failed",
			"device_id", ev.DeviceID, "error", err)
		return
	}
	if len(userIDs) == 0 {
		e.logger.Warn("no notification recipients configured", "device_id", ev.DeviceID)
		return
	}

	switch ev.Event {
	case poller.EventDisconnect:
		e.handleDisconnect(ctx, ev, userIDs)
	case poller.EventReconnect:
		e.handleReconnect(ctx, ev, userIDs)
	}
}

func (e *Engine) handleDisconnect(ctx context.Context, ev poller.TransitionEvent, userIDs []string) {
	var lastSuccess any
	if ev.LastSuccessAt != nil {
		lastSuccess = ev.LastSuccessAt.Format(time.RFC3339)
	}
	template := &Notification{
		DeviceID: ev.DeviceID,
		Type:     TypeDisconnect,
		Severity: SeverityError,
		Title:    fmt.Sprintf("Device offline: %s", ev.DeviceName),
		Message:  fmt.Sprintf("%s stopped responding at %s.", ev.DeviceName, ev.Timestamp.Format(time.RFC3339)),
		Metadata: map[string]any{
			"device_name":     ev.DeviceName,
			"endpoint":        ev.Endpoint,
			"last_success_at": lastSuccess,
			"failure_count":   ev.FailureCount,
		},
		CreatedAt: ev.Timestamp,
	}

	created, err := e.repo.CreateDisconnectBatch(ctx, template, userIDs, e.window)
	if err != nil {
		e.logger.Error("storing disconnect notifications failed",
			"device_id", ev.DeviceID, "error", err)
		return
	}
	if len(created) == 0 {
		e.logger.Debug("disconnect deduplicated", "device_id", ev.DeviceID)
		return
	}

	e.logger.Info("disconnect notifications created",
		"device_id", ev.DeviceID, "recipients", len(created))
	if e.pusher != nil {
		for _, n := range created {
			e.pusher.PushNotification(n.UserID, n)
		}
	}
}

func (e *Engine) handleReconnect(ctx context.Context, ev poller.TransitionEvent, userIDs []string) {
	metadata := map[string]any{
		"device_name": ev.DeviceName,
	}
	disconnectID, err := e.repo.LatestDisconnectID(ctx, ev.DeviceID)
	switch {
	case err == nil:
		metadata["disconnect_notification_id"] = disconnectID
	case errors.Is(err, ErrNotFound):
		// A reconnect without a stored disconnect, nothing to link.
	default:
		e.logger.Error("resolving prior disconnect failed",
			"device_id", ev.DeviceID, "error", err)
	}

	for _, userID := range userIDs {
		n := &Notification{
			UserID:   userID,
			DeviceID: ev.DeviceID,
			Type:     TypeReconnect,
			Severity: SeverityInfo,
			Title:    fmt.Sprintf("Device back online: %s", ev.DeviceName),
			Message:  fmt.Sprintf("%s resumed reporting at %s.", ev.DeviceName, ev.Timestamp.Format(time.RFC3339)),
			Metadata:  metadata,
			CreatedAt: ev.Timestamp,
		}
		if err := e.repo.Create(ctx, n); err != nil {
			// One failed recipient must not block the rest.
			e.logger.Error("storing reconnect notification failed",
				"device_id", ev.DeviceID, "user_id", userID, "error", err)
			continue
		}
		if e.pusher != nil {
			e.pusher.PushNotification(userID, *n)
		}
	}

	e.logger.Info("reconnect notifications created",
		"device_id", ev.DeviceID, "recipients", len(userIDs))
}
