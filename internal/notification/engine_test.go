package notification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/denh4m/ddms-core/internal/device"
	"github.com/denh4m/ddms-core/internal/poller"
)

// mockRepo records repository calls.
type mockRepo struct {
	mu sync.Mutex

	created  []Notification
	batches  []batchCall
	dedup    bool // batch calls "create" nothing
	batchErr error

	latestDisconnectID  string
	latestDisconnectErr error

	activity chan struct{}
}

type batchCall struct {
	template Notification
	userIDs  []string
	window   time.Duration
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		latestDisconnectErr: ErrNotFound,
		activity:            make(chan struct{}, 16),
	}
}

func (m *mockRepo) Create(ctx context.Context, n *Notification) error {
	m.mu.Lock()
	m.created = append(m.created, *n)
	m.mu.Unlock()
	m.activity <- struct{}{}
	return nil
}

func (m *mockRepo) CreateDisconnectBatch(ctx context.Context, template *Notification, userIDs []string, window time.Duration) ([]Notification, error) {
	m.mu.Lock()
	m.batches = append(m.batches, batchCall{template: *template, userIDs: userIDs, window: window})
	dedup := m.dedup
	err := m.batchErr
	m.mu.Unlock()
	m.activity <- struct{}{}
	if err != nil {
		return nil, err
	}
	if dedup {
		return nil, nil
	}
	out := make([]Notification, len(userIDs))
	for i, userID := range userIDs {
		n := *template
		n.ID = "ntf-" + userID
		n.UserID = userID
		out[i] = n
	}
	return out, nil
}

func (m *mockRepo) LatestDisconnectID(ctx context.Context, deviceID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.latestDisconnectErr != nil {
		return "", m.latestDisconnectErr
	}
	return m.latestDisconnectID, nil
}

func (m *mockRepo) ListForUser(ctx context.Context, userID string, limit, offset int, unreadOnly bool) ([]Notification, error) {
	return nil, nil
}
func (m *mockRepo) UnreadCount(ctx context.Context, userID string) (int, error) { return 0, nil }
func (m *mockRepo) MarkRead(ctx context.Context, id, userID string) error       { return nil }
func (m *mockRepo) MarkAllRead(ctx context.Context, userID string) (int, error) { return 0, nil }
func (m *mockRepo) Dismiss(ctx context.Context, id, userID string) error        { return nil }

// fixedRecipients returns a constant recipient list.
type fixedRecipients struct {
	ids []string
	err error
}

func (f fixedRecipients) NotificationRecipients(ctx context.Context) ([]string, error) {
	return f.ids, f.err
}

// recordingPusher captures real-time pushes.
type recordingPusher struct {
	mu     sync.Mutex
	pushes []Notification
}

func (p *recordingPusher) PushNotification(userID string, n Notification) {
	p.mu.Lock()
	p.pushes = append(p.pushes, n)
	p.mu.Unlock()
}

func (p *recordingPusher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pushes)
}

func (p *recordingPusher) all() []Notification {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Notification(nil), p.pushes...)
}

func disconnectEvent() poller.TransitionEvent {
	lastSeen := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	return poller.TransitionEvent{
		DeviceID:      "dev-1",
		DeviceName:    "intake-temp",
		Endpoint:      "10.0.0.5:502",
		From:          device.StatusOnline,
		To:            device.StatusOffline,
		Event:         poller.EventDisconnect,
		Timestamp:     time.Now().UTC(),
		Reason:        "modbus: operation timed out",
		LastSuccessAt: &lastSeen,
		FailureCount:  3,
	}
}

func waitActivity(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for repository activity")
	}
}

func TestEngine_Disconnect_FansOutToRecipients(t *testing.T) {
	repo := newMockRepo()
	pusher := &recordingPusher{}
	window := 5 * time.Minute

	engine := NewEngine(repo, fixedRecipients{ids: []string{"owner-1", "admin-1"}}, window, nil)
	engine.SetPusher(pusher)

	events := make(chan poller.TransitionEvent, 1)
	engine.Start(context.Background(), events)
	defer engine.Stop()

	events <- disconnectEvent()
	waitActivity(t, repo.activity)
	engine.Stop()

	if len(repo.batches) != 1 {
		t.Fatalf("batch calls = %d, want 1", len(repo.batches))
	}
	batch := repo.batches[0]
	if len(batch.userIDs) != 2 {
		t.Errorf("recipients = %v, want 2 users", batch.userIDs)
	}
	if batch.window != window {
		t.Errorf("dedup window = %v, want %v", batch.window, window)
	}
	if batch.template.Type != TypeDisconnect {
		t.Errorf("type = %q, want DISCONNECT", batch.template.Type)
	}
	if batch.template.Severity != SeverityError {
		t.Errorf("severity = %q, want ERROR", batch.template.Severity)
	}

	meta := batch.template.Metadata
	if meta["device_name"] != "intake-temp" {
		t.Errorf("metadata device_name = %v, want intake-temp", meta["device_name"])
	}
	if meta["endpoint"] != "10.0.0.5:502" {
		t.Errorf("metadata endpoint = %v, want 10.0.0.5:502", meta["endpoint"])
	}
	if meta["last_success_at"] != "2026-08-30T12:00:00Z" {
		t.Errorf("metadata last_success_at = %v, want 2026-08-30T12:00:00Z", meta["last_success_at"])
	}
	if meta["failure_count"] != 3 {
		t.Errorf("metadata failure_count = %v, want 3", meta["failure_count"])
	}

	pushes := pusher.all()
	if len(pushes) != 2 {
		t.Fatalf("pushes = %d, want 2", len(pushes))
	}
	for _, n := range pushes {
		if n.ID == "" {
			t.Error("pushed notification missing the stored id")
		}
		if n.UserID == "" {
			t.Error("pushed notification missing user id")
		}
	}
}

func TestEngine_Disconnect_DeduplicatedSkipsPush(t *testing.T) {
	repo := newMockRepo()
	repo.dedup = true // the database says: already notified
	pusher := &recordingPusher{}

	engine := NewEngine(repo, fixedRecipients{ids: []string{"owner-1"}}, 5*time.Minute, nil)
	engine.SetPusher(pusher)

	events := make(chan poller.TransitionEvent, 1)
	engine.Start(context.Background(), events)
	defer engine.Stop()

	events <- disconnectEvent()
	waitActivity(t, repo.activity)
	engine.Stop()

	if pusher.count() != 0 {
		t.Errorf("pushes = %d, want 0 for deduplicated disconnect", pusher.count())
	}
}

func TestEngine_Reconnect_CreatesPerRecipient(t *testing.T) {
	repo := newMockRepo()
	repo.latestDisconnectID = "disc-42"
	repo.latestDisconnectErr = nil
	pusher := &recordingPusher{}

	engine := NewEngine(repo, fixedRecipients{ids: []string{"owner-1", "admin-1"}}, 5*time.Minute, nil)
	engine.SetPusher(pusher)

	events := make(chan poller.TransitionEvent, 1)
	engine.Start(context.Background(), events)
	defer engine.Stop()

	ev := disconnectEvent()
	ev.Event = poller.EventReconnect
	ev.From = device.StatusOffline
	ev.To = device.StatusOnline
	ev.Reason = ""
	ev.FailureCount = 0
	events <- ev

	waitActivity(t, repo.activity)
	waitActivity(t, repo.activity)
	engine.Stop()

	if len(repo.created) != 2 {
		t.Fatalf("created = %d notifications, want 2", len(repo.created))
	}
	for _, n := range repo.created {
		if n.Type != TypeReconnect {
			t.Errorf("type = %q, want RECONNECT", n.Type)
		}
		if n.Severity != SeverityInfo {
			t.Errorf("severity = %q, want INFO", n.Severity)
		}
		if n.UserID == "" {
			t.Error("reconnect notification missing user ID")
		}
		if n.Metadata["disconnect_notification_id"] != "disc-42" {
			t.Errorf("metadata disconnect_notification_id = %v, want disc-42",
				n.Metadata["disconnect_notification_id"])
		}
	}
	if pusher.count() != 2 {
		t.Errorf("pushes = %d, want 2", pusher.count())
	}
}

func TestEngine_Reconnect_WithoutPriorDisconnect(t *testing.T) {
	// No stored disconnect to link: the reconnect is still created,
	// just without the reference.
	repo := newMockRepo()

	engine := NewEngine(repo, fixedRecipients{ids: []string{"owner-1"}}, 5*time.Minute, nil)

	events := make(chan poller.TransitionEvent, 1)
	engine.Start(context.Background(), events)
	defer engine.Stop()

	ev := disconnectEvent()
	ev.Event = poller.EventReconnect
	events <- ev

	waitActivity(t, repo.activity)
	engine.Stop()

	if len(repo.created) != 1 {
		t.Fatalf("created = %d notifications, want 1", len(repo.created))
	}
	if _, ok := repo.created[0].Metadata["disconnect_notification_id"]; ok {
		t.Error("metadata must not reference a disconnect that was never stored")
	}
}

func TestEngine_RepositoryFailureDoesNotStopEngine(t *testing.T) {
	repo := newMockRepo()
	repo.batchErr = errors.New("db down")

	engine := NewEngine(repo, fixedRecipients{ids: []string{"owner-1"}}, 5*time.Minute, nil)

	events := make(chan poller.TransitionEvent, 2)
	engine.Start(context.Background(), events)
	defer engine.Stop()

	events <- disconnectEvent()
	waitActivity(t, repo.activity)

	// The engine must keep consuming after the failure.
	repo.mu.Lock()
	repo.batchErr = nil
	repo.mu.Unlock()

	events <- disconnectEvent()
	waitActivity(t, repo.activity)
	engine.Stop()

	if len(repo.batches) != 2 {
		t.Errorf("batch calls = %d, want 2", len(repo.batches))
	}
}

func TestEngine_NoRecipients(t *testing.T) {
	repo := newMockRepo()
	engine := NewEngine(repo, fixedRecipients{ids: nil}, 5*time.Minute, nil)

	events := make(chan poller.TransitionEvent, 1)
	engine.Start(context.Background(), events)

	events <- disconnectEvent()
	close(events)
	engine.Stop()

	if len(repo.batches) != 0 {
		t.Errorf("batch calls = %d, want 0 with no recipients", len(repo.batches))
	}
}
