package mqtt

import (
	"strings"
	"testing"

	"github.com/denh4m/ddms-core/internal/infrastructure/config"
)

func TestTopicBuilders(t *testing.T) {
	if got := DeviceEventTopic("dev-1"); got != "ddms/event/dev-1" {
		t.Errorf("DeviceEventTopic() = %q, want ddms/event/dev-1", got)
	}
	if got := DeviceReadingTopic("dev-1"); got != "ddms/reading/dev-1" {
		t.Errorf("DeviceReadingTopic() = %q, want ddms/reading/dev-1", got)
	}
	if TopicSystemStatus != "ddms/system/status" {
		t.Errorf("TopicSystemStatus = %q", TopicSystemStatus)
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := config.MQTTConfig{
		Host:     "broker.local",
		Port:     8883,
		TLS:      true,
		ClientID: "ddms-core",
		Username: "ddms",
		Password: "secret",
		QoS:      1,
	}

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 {
		t.Fatalf("servers = %d, want 1", len(opts.Servers))
	}
	if got := opts.Servers[0].String(); got != "ssl://broker.local:8883" {
		t.Errorf("broker URL = %q, want ssl://broker.local:8883", got)
	}
	if opts.ClientID != "ddms-core" {
		t.Errorf("client ID = %q", opts.ClientID)
	}
	if opts.Username != "ddms" {
		t.Errorf("username = %q", opts.Username)
	}
	if opts.TLSConfig == nil {
		t.Error("TLS enabled but no TLS config set")
	}
}

func TestBuildClientOptions_PlainTCP(t *testing.T) {
	cfg := config.MQTTConfig{Host: "localhost", Port: 1883, ClientID: "ddms-core"}

	opts := buildClientOptions(cfg)
	if got := opts.Servers[0].String(); got != "tcp://localhost:1883" {
		t.Errorf("broker URL = %q, want tcp://localhost:1883", got)
	}
}

func TestStatusPayloads(t *testing.T) {
	online := buildOnlinePayload("ddms-core")
	if !strings.Contains(online, `"status":"online"`) {
		t.Errorf("online payload missing status: %s", online)
	}

	offline := buildOfflinePayload("ddms-core")
	if !strings.Contains(offline, `"reason":"graceful_shutdown"`) {
		t.Errorf("offline payload missing reason: %s", offline)
	}
}

func TestPublish_Validation(t *testing.T) {
	c := &Client{}

	if err := c.Publish("", []byte("x"), 0, false); err != ErrInvalidTopic {
		t.Errorf("empty topic error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Publish("ddms/test", []byte("x"), 3, false); err != ErrInvalidQoS {
		t.Errorf("bad QoS error = %v, want ErrInvalidQoS", err)
	}
	if err := c.Publish("ddms/test", []byte("x"), 0, false); err != ErrNotConnected {
		t.Errorf("disconnected error = %v, want ErrNotConnected", err)
	}
}
