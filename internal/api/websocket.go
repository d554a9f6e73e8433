package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/denh4m/ddms-core/internal/auth"
	"github.com/denh4m/ddms-core/internal/device"
	"github.com/denh4m/ddms-core/internal/infrastructure/config"
	"github.com/denh4m/ddms-core/internal/notification"
)

// Subscription channels offered over the WebSocket endpoint.
const (
	// ChannelReadings carries the periodic latest-reading snapshot for all
	// devices. Open to any connected session.
	ChannelReadings = "device.readings"
	// ChannelNotifications carries notifications addressed to the session's
	// authenticated user. Requires a valid token at upgrade time.
	ChannelNotifications = "notifications"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

// wsSendBufferSize is the per-client outbound buffer. A client that falls
// this far behind starts dropping messages rather than blocking broadcasts.
const wsSendBufferSize = 256

// WSMessage is the envelope for all WebSocket traffic in both directions.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Channel   string `json:"channel,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload of subscribe/unsubscribe messages.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin is enforced by the CORS layer for REST; browser WebSocket
	// clients connect with the token they obtained through it.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSClient represents a single WebSocket session.
type WSClient struct {
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	subscriptions map[string]struct{}
	mu            sync.RWMutex

	// Identity from the upgrade-time token. Empty userID means an
	// unauthenticated session limited to the readings feed.
	userID string
	role   auth.Role
}

// Hub tracks connected WebSocket sessions and fans out events to them.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Hub struct {
	logger  Logger
	clients map[*WSClient]struct{}
	mu      sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub(logger Logger) *Hub {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Hub{
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *WSClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug("websocket client registered", "clients", count)
}

// Unregister removes a client and closes its send channel exactly once.
func (h *Hub) Unregister(c *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[c]
	delete(h.clients, c)
	count := len(h.clients)
	h.mu.Unlock()

	if existed {
		close(c.send)
		h.logger.Debug("websocket client unregistered", "clients", count)
	}
}

// ClientCount returns the number of connected sessions.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastReadings pushes the latest-reading snapshot to every session
// subscribed to the readings channel. The payload is marshalled once.
func (h *Hub) BroadcastReadings(snapshots []device.Snapshot) {
	data, err := marshalEvent(ChannelReadings, snapshots)
	if err != nil {
		h.logger.Warn("failed to marshal readings snapshot", "error", err)
		return
	}

	for _, c := range h.snapshot() {
		if c.isSubscribed(ChannelReadings) {
			c.trySend(data)
		}
	}
}

// PushNotification delivers a notification to every connected session
// belonging to the given user that subscribed to the notifications channel.
// Sessions that are absent or behind simply miss the push; the notification
// remains queryable through the REST API.
func (h *Hub) PushNotification(userID string, n notification.Notification) {
	data, err := marshalEvent(ChannelNotifications, n)
	if err != nil {
		h.logger.Warn("failed to marshal notification", "error", err)
		return
	}

	for _, c := range h.snapshot() {
		if c.userID == userID && c.isSubscribed(ChannelNotifications) {
			c.trySend(data)
		}
	}
}

// closeAll disconnects every client. Called on server shutdown.
func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := make([]*WSClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*WSClient]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		close(c.send)
		//nolint:errcheck // Best-effort close during shutdown
		c.conn.Close()
	}
}

// snapshot returns the current client set without holding the lock during sends.
func (h *Hub) snapshot() []*WSClient {
	h.mu.RLock()
	defer h.mu.RUnlock()
	clients := make([]*WSClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	return clients
}

// marshalEvent builds the wire form of an event message for a channel.
func marshalEvent(channel string, payload any) ([]byte, error) {
	return json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		Channel:   channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
}

// runSnapshots broadcasts the device snapshot set on a fixed cadence until
// the context is cancelled. Broadcasts are skipped while nobody is connected.
func (s *Server) runSnapshots(ctx context.Context) {
	interval := time.Duration(s.wsCfg.SnapshotInterval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.hub.ClientCount() == 0 {
				continue
			}
			s.hub.BroadcastReadings(s.devices.Snapshots())
		}
	}
}

// handleWebSocket upgrades the connection and starts the client pumps.
// The token query parameter is optional: anonymous sessions may follow the
// readings feed but cannot subscribe to notifications.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	var userID string
	var role auth.Role
	if token := r.URL.Query().Get("token"); token != "" {
		claims, err := auth.ParseToken(token, s.security.JWT.Secret)
		if err != nil {
			writeUnauthorized(w, "invalid or expired token")
			return
		}
		userID = claims.Subject
		role = claims.Role
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
		userID:        userID,
		role:          role,
	}

	s.hub.Register(client)

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

// readPump reads messages from the WebSocket connection.
func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	pongWait := time.Duration(cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		// Any client message resets the read deadline (keeps the connection
		// alive even if the browser ignores protocol-level pings).
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleMessage(message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	pongWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				// Hub closed the channel
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes an incoming WebSocket message.
func (c *WSClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		c.handleSubscribe(msg)
	case WSTypeUnsubscribe:
		c.handleUnsubscribe(msg)
	case WSTypePing:
		c.sendResponse(msg.ID, WSTypePong, nil)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// handleSubscribe adds channels to the client's subscription list.
// The notifications channel is refused for anonymous sessions.
func (c *WSClient) handleSubscribe(msg WSMessage) {
	sub, ok := c.decodeSubscribePayload(msg)
	if !ok {
		return
	}

	accepted := make([]string, 0, len(sub.Channels))
	c.mu.Lock()
	for _, ch := range sub.Channels {
		switch ch {
		case ChannelReadings:
			c.subscriptions[ch] = struct{}{}
			accepted = append(accepted, ch)
		case ChannelNotifications:
			if c.userID == "" {
				continue
			}
			c.subscriptions[ch] = struct{}{}
			accepted = append(accepted, ch)
		}
	}
	c.mu.Unlock()

	if len(accepted) < len(sub.Channels) {
		c.sendError(msg.ID, "one or more channels were refused")
	}
	c.hub.logger.Debug("websocket client subscribed", "channels", accepted)

	c.sendResponse(msg.ID, WSTypeResponse, map[string]any{
		"subscribed": accepted,
	})
}

// handleUnsubscribe removes channels from the client's subscription list.
func (c *WSClient) handleUnsubscribe(msg WSMessage) {
	sub, ok := c.decodeSubscribePayload(msg)
	if !ok {
		return
	}

	c.mu.Lock()
	for _, ch := range sub.Channels {
		delete(c.subscriptions, ch)
	}
	c.mu.Unlock()

	c.sendResponse(msg.ID, WSTypeResponse, map[string]any{
		"unsubscribed": sub.Channels,
	})
}

// decodeSubscribePayload re-marshals the generic payload into the typed form.
func (c *WSClient) decodeSubscribePayload(msg WSMessage) (WSSubscribePayload, bool) {
	payloadBytes, err := json.Marshal(msg.Payload)
	if err != nil {
		c.sendError(msg.ID, "invalid payload")
		return WSSubscribePayload{}, false
	}

	var sub WSSubscribePayload
	if err := json.Unmarshal(payloadBytes, &sub); err != nil {
		c.sendError(msg.ID, "invalid subscribe payload")
		return WSSubscribePayload{}, false
	}
	return sub, true
}

// trySend attempts to send data to the client's send channel.
// It silently handles closed channels (client disconnected during broadcast)
// and full buffers (slow client).
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case c.send <- data:
	default:
		// Client buffer full, skip
	}
}

// isSubscribed checks if the client is subscribed to a channel.
func (c *WSClient) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subscriptions[channel]
	return ok
}

// sendResponse sends a response message to the client.
// Routes through trySend to safely handle closed channels during shutdown.
func (c *WSClient) sendResponse(id, msgType string, payload any) {
	msg := WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.trySend(data)
}

// sendError sends an error message to the client.
func (c *WSClient) sendError(id, message string) {
	c.sendResponse(id, WSTypeError, map[string]string{"message": message})
}
