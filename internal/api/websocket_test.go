package api

import (
	"encoding/json"
	"testing"

	"github.com/denh4m/ddms-core/internal/device"
	"github.com/denh4m/ddms-core/internal/notification"
)

// hubClient builds a registered client without a network connection. The
// pumps are never started, so messages accumulate in the send channel.
func hubClient(h *Hub, userID string, channels ...string) *WSClient {
	c := &WSClient{
		hub:           h,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
		userID:        userID,
	}
	for _, ch := range channels {
		c.subscriptions[ch] = struct{}{}
	}
	h.Register(c)
	return c
}

func receivedMessage(t *testing.T, c *WSClient) *WSMessage {
	t.Helper()
	select {
	case data := <-c.send:
		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal pushed message: %v", err)
		}
		return &msg
	default:
		return nil
	}
}

func TestHubBroadcastReadings(t *testing.T) {
	h := NewHub(nil)
	subscribed := hubClient(h, "", ChannelReadings)
	notSubscribed := hubClient(h, "")

	value := 19.5
	h.BroadcastReadings([]device.Snapshot{
		{DeviceID: "dev-1", Name: "Pump", Status: device.StatusOnline, Value: &value},
	})

	msg := receivedMessage(t, subscribed)
	if msg == nil {
		t.Fatal("subscribed client received nothing")
	}
	if msg.Type != WSTypeEvent || msg.Channel != ChannelReadings {
		t.Errorf("message = %q/%q, want event on %s", msg.Type, msg.Channel, ChannelReadings)
	}

	if got := receivedMessage(t, notSubscribed); got != nil {
		t.Errorf("unsubscribed client received %+v", got)
	}
}

func TestHubPushNotificationRoutesByUser(t *testing.T) {
	h := NewHub(nil)
	owner := hubClient(h, "user-1", ChannelNotifications)
	ownerSecondSession := hubClient(h, "user-1", ChannelNotifications)
	otherUser := hubClient(h, "user-2", ChannelNotifications)
	anonymous := hubClient(h, "", ChannelReadings)

	h.PushNotification("user-1", notification.Notification{
		ID: "n-1", UserID: "user-1", Type: notification.TypeDisconnect, Title: "Device offline",
	})

	for _, c := range []*WSClient{owner, ownerSecondSession} {
		msg := receivedMessage(t, c)
		if msg == nil {
			t.Fatal("recipient session received nothing")
		}
		if msg.Channel != ChannelNotifications {
			t.Errorf("channel = %q, want %s", msg.Channel, ChannelNotifications)
		}
	}

	if got := receivedMessage(t, otherUser); got != nil {
		t.Errorf("other user received %+v", got)
	}
	if got := receivedMessage(t, anonymous); got != nil {
		t.Errorf("anonymous session received %+v", got)
	}
}

func TestHubUnregisterClosesSendOnce(t *testing.T) {
	h := NewHub(nil)
	c := hubClient(h, "", ChannelReadings)

	h.Unregister(c)
	// A second unregister must not double-close the channel.
	h.Unregister(c)

	if _, open := <-c.send; open {
		t.Error("send channel still open after unregister")
	}
	if h.ClientCount() != 0 {
		t.Errorf("ClientCount = %d, want 0", h.ClientCount())
	}
}

func TestHubBroadcastSkipsClosedClients(t *testing.T) {
	h := NewHub(nil)
	live := hubClient(h, "", ChannelReadings)
	gone := hubClient(h, "", ChannelReadings)
	h.Unregister(gone)

	h.BroadcastReadings([]device.Snapshot{{DeviceID: "dev-1"}})

	if msg := receivedMessage(t, live); msg == nil {
		t.Fatal("live client received nothing")
	}
}

func TestClientSubscribeRefusesNotificationsWhenAnonymous(t *testing.T) {
	h := NewHub(nil)
	c := hubClient(h, "")

	c.handleSubscribe(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "1",
		Payload: map[string]any{"channels": []string{ChannelReadings, ChannelNotifications}},
	})

	if !c.isSubscribed(ChannelReadings) {
		t.Error("readings subscription should be accepted")
	}
	if c.isSubscribed(ChannelNotifications) {
		t.Error("anonymous session must not subscribe to notifications")
	}
}

func TestClientSubscribeAllowsNotificationsForUser(t *testing.T) {
	h := NewHub(nil)
	c := hubClient(h, "user-1")

	c.handleSubscribe(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "1",
		Payload: map[string]any{"channels": []string{ChannelNotifications}},
	})

	if !c.isSubscribed(ChannelNotifications) {
		t.Error("authenticated session should subscribe to notifications")
	}
}
