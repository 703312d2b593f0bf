package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/saltfish/portfolio-optimizer/internal/domain"
	"github.com/saltfish/portfolio-optimizer/internal/events"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512

	// Size of the send buffer for each client.
	sendBufferSize = 256
)

// Event types that can be broadcasted to WebSocket clients.
const (
	// EventTypeWorkflowState carries a full WorkflowState snapshot.
	EventTypeWorkflowState = "workflow.state"

	// Lifecycle events use their routing keys as event types.
	EventTypeOptimizeStarted    = events.RoutingKeyOptimizeStarted
	EventTypeOptimizeSucceeded  = events.RoutingKeyOptimizeSucceeded
	EventTypeOptimizeFailed     = events.RoutingKeyOptimizeFailed
	EventTypeRecommendStarted   = events.RoutingKeyRecommendStarted
	EventTypeRecommendSucceeded = events.RoutingKeyRecommendSucceeded
	EventTypeRecommendFailed    = events.RoutingKeyRecommendFailed
)

// WSMessage represents a WebSocket message sent to clients.
type WSMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// SubscriptionMessage represents a subscription request from a client.
type SubscriptionMessage struct {
	Action     string   `json:"action"` // "subscribe" or "unsubscribe"
	EventTypes []string `json:"event_types"`
}

// Client represents a WebSocket client connection.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan []byte

	// Subscribed event types (if empty, receives all events).
	subscriptions map[string]bool
	mu            sync.RWMutex

	// closed is set once send is closed; guarded by mu.
	closed bool

	logger *zap.Logger
}

// Hub maintains the set of active clients and broadcasts messages to them.
// It receives workflow state changes as a listener and lifecycle events as a
// publisher.
type Hub struct {
	clients map[*Client]bool

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	// Mutex to protect clients map.
	mu sync.RWMutex

	// latestState holds the newest undelivered workflow.state message;
	// a newer snapshot replaces it.
	stateMu     sync.Mutex
	latestState []byte
	stateReady  chan struct{}

	logger *zap.Logger

	done     chan struct{}
	doneOnce sync.Once
}

// NewHub creates a new Hub instance.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stateReady: make(chan struct{}, 1),
		logger:     logger,
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop.
func (h *Hub) Run() {
	h.logger.Info("WebSocket hub started")
	defer h.logger.Info("WebSocket hub stopped")

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("Client registered", zap.Int("total_clients", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.close()
				h.logger.Info("Client unregistered", zap.Int("total_clients", len(h.clients)))
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.broadcastMessage(message)

		case <-h.stateReady:
			if message := h.takeState(); message != nil {
				h.broadcastMessage(message)
			}

		case <-h.done:
			h.shutdown()
			return
		}
	}
}

// broadcastMessage sends a message to all subscribed clients.
func (h *Hub) broadcastMessage(message []byte) {
	var wsMsg WSMessage
	if err := json.Unmarshal(message, &wsMsg); err != nil {
		h.logger.Error("Failed to unmarshal message for broadcasting", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if client.isSubscribed(wsMsg.Type) && !client.trySend(message) {
			// Client's send buffer is full, remove it
			go h.dropClient(client)
		}
	}
}

// dropClient unregisters c unless the hub is already shut down.
func (h *Hub) dropClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// BroadcastEvent broadcasts an event to all connected clients.
func (h *Hub) BroadcastEvent(eventType string, data interface{}) {
	msgBytes, err := encodeMessage(eventType, data)
	if err != nil {
		h.logger.Error("Failed to marshal event", zap.Error(err), zap.String("event_type", eventType))
		return
	}

	select {
	case h.broadcast <- msgBytes:
	default:
		h.logger.Warn("Broadcast channel full, dropping message", zap.String("event_type", eventType))
	}
}

// WorkflowChanged broadcasts a state snapshot. Snapshots not yet delivered
// are replaced by newer ones, never dropped for lack of buffer space.
func (h *Hub) WorkflowChanged(state domain.WorkflowState) {
	msgBytes, err := encodeMessage(EventTypeWorkflowState, state)
	if err != nil {
		h.logger.Error("Failed to marshal event", zap.Error(err), zap.String("event_type", EventTypeWorkflowState))
		return
	}

	h.stateMu.Lock()
	h.latestState = msgBytes
	h.stateMu.Unlock()

	select {
	case h.stateReady <- struct{}{}:
	default:
	}
}

func (h *Hub) takeState() []byte {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	message := h.latestState
	h.latestState = nil
	return message
}

// Publish broadcasts event with the routing key as its type.
func (h *Hub) Publish(ctx context.Context, routingKey string, event interface{}) error {
	h.BroadcastEvent(routingKey, event)
	return nil
}

// PublishWorkflowEvent broadcasts a lifecycle event.
func (h *Hub) PublishWorkflowEvent(ctx context.Context, event *events.WorkflowEvent) error {
	return h.Publish(ctx, event.RoutingKey(), event)
}

// Close is a no-op; use Shutdown to stop the hub.
func (h *Hub) Close() error {
	return nil
}

// GetClientCount returns the number of connected clients.
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown gracefully shuts down the hub. It is safe to call more than once.
func (h *Hub) Shutdown() {
	h.doneOnce.Do(func() {
		close(h.done)
	})
}

// shutdown closes all client connections.
func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		client.close()
		if client.conn != nil {
			client.conn.Close()
		}
	}
	h.clients = make(map[*Client]bool)
}

func encodeMessage(eventType string, data interface{}) ([]byte, error) {
	return json.Marshal(WSMessage{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now(),
	})
}

// trySend queues message without blocking. It reports false when the buffer
// is full or the client is closed.
func (c *Client) trySend(message []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

// close closes the send channel once.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// isSubscribed checks if the client is subscribed to the given event type.
func (c *Client) isSubscribed(eventType string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// If no specific subscriptions, receive all events
	if len(c.subscriptions) == 0 {
		return true
	}

	return c.subscriptions[eventType]
}

// subscribe adds event types to the client's subscriptions.
func (c *Client) subscribe(eventTypes []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.subscriptions == nil {
		c.subscriptions = make(map[string]bool)
	}

	for _, eventType := range eventTypes {
		c.subscriptions[eventType] = true
	}

	c.logger.Info("Client subscribed to events", zap.Strings("event_types", eventTypes))
}

// unsubscribe removes event types from the client's subscriptions.
func (c *Client) unsubscribe(eventTypes []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, eventType := range eventTypes {
		delete(c.subscriptions, eventType)
	}

	c.logger.Info("Client unsubscribed from events", zap.Strings("event_types", eventTypes))
}

// handleMessage applies a text message received from the peer and returns
// the reply to send back, if any.
func (c *Client) handleMessage(message []byte) []byte {
	// Some clients send a text ping instead of WS ping frames
	if string(message) == "ping" {
		return []byte("pong")
	}

	var subMsg SubscriptionMessage
	if err := json.Unmarshal(message, &subMsg); err != nil {
		c.logger.Debug("Ignoring non-JSON message", zap.String("message", string(message)))
		return nil
	}

	switch subMsg.Action {
	case "subscribe":
		c.subscribe(subMsg.EventTypes)
	case "unsubscribe":
		c.unsubscribe(subMsg.EventTypes)
	default:
		c.logger.Debug("Unknown subscription action", zap.String("action", subMsg.Action))
	}
	return nil
}

// readPump pumps messages from the websocket connection to the hub.
func (c *Client) readPump() {
	defer func() {
		c.hub.dropClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Error("WebSocket read error", zap.Error(err))
			}
			break
		}

		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if reply := c.handleMessage(message); reply != nil && !c.trySend(reply) {
			c.logger.Debug("Dropping reply to closed or slow client")
		}
	}
}

// writePump pumps messages from the hub to the websocket connection.
// Each queued message is written as its own frame.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// upgrader is used to upgrade HTTP connections to WebSocket.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeWS handles websocket requests from the peer. A non-nil greeting is
// queued before any broadcast so the peer starts from a known state.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, logger *zap.Logger, greeting *WSMessage) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Failed to upgrade connection", zap.Error(err))
		return
	}

	client := &Client{
		hub:           h,
		conn:          conn,
		send:          make(chan []byte, sendBufferSize),
		subscriptions: make(map[string]bool),
		logger:        logger.With(zap.String("remote_addr", r.RemoteAddr)),
	}

	if greeting != nil {
		if msg, err := encodeMessage(greeting.Type, greeting.Data); err == nil {
			client.send <- msg
		}
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

var _ events.Publisher = (*Hub)(nil)
