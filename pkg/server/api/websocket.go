package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/StrathCole/feedguard/pkg/feedset"
	"github.com/StrathCole/feedguard/pkg/logging"
	"github.com/StrathCole/feedguard/pkg/metrics"
	"github.com/StrathCole/feedguard/pkg/policy"
)

// Event types sent to clients.
const (
	EventPriceUpdate  = "price_update"
	EventConfigChange = "config_change"
)

// WebSocketServer streams price updates and configuration changes to connected clients.
type WebSocketServer struct {
	logger   *logging.Logger
	upgrader websocket.Upgrader

	// Client management
	mu      sync.RWMutex
	clients map[*WebSocketClient]bool

	events chan Event
}

// WebSocketClient represents a connected WebSocket client.
type WebSocketClient struct {
	conn            *websocket.Conn
	send            chan []byte
	server          *WebSocketServer
	subscribedAll   bool
	subscribedFeeds map[string]bool
	mu              sync.RWMutex
}

// WebSocketMessage represents a client message.
type WebSocketMessage struct {
	Type  string   `json:"type"`  // "subscribe", "unsubscribe", "ping"
	Feeds []string `json:"feeds"` // Feed names, "*" for all
}

// Event is sent to clients.
type Event struct {
	Type      string         `json:"type"`      // "price_update" or "config_change"
	Timestamp string         `json:"timestamp"` // ISO 8601 timestamp
	Feed      string         `json:"feed"`
	Price     *PriceEvent    `json:"price,omitempty"`
	Change    *policy.Change `json:"change,omitempty"`
}

// PriceEvent is the payload of a price_update event.
type PriceEvent struct {
	Price           string    `json:"price,omitempty"`
	UpdatedAt       time.Time `json:"updated_at,omitempty"`
	UsedFallback    bool      `json:"used_fallback"`
	Error           string    `json:"error,omitempty"`
	PrimaryStale    bool      `json:"primary_stale"`
	FallbackStale   bool      `json:"fallback_stale"`
	WithinThreshold bool      `json:"within_threshold"`
	DeviationBps    *uint64   `json:"deviation_bps"`
}

var (
	_ feedset.Notifier      = (*WebSocketServer)(nil)
	_ feedset.PriceListener = (*WebSocketServer)(nil)
)

// NewWebSocketServer creates a new WebSocket server. Run must be called to deliver events.
func NewWebSocketServer(logger *logging.Logger) *WebSocketServer {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	return &WebSocketServer{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(_ *http.Request) bool {
				// Allow all origins (configure CORS as needed)
				return true
			},
		},
		clients: make(map[*WebSocketClient]bool),
		events:  make(chan Event, 100),
	}
}

// Run broadcasts events until ctx is done, then disconnects all clients.
func (s *WebSocketServer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.closeAll()
			return
		case ev := <-s.events:
			s.broadcast(ev)
		}
	}
}

// PublishPrice queues a price update for broadcast.
func (s *WebSocketServer) PublishPrice(u feedset.PriceUpdate) {
	ev := &PriceEvent{
		UpdatedAt:       u.UpdatedAt,
		UsedFallback:    u.UsedFallback,
		Error:           u.Error,
		PrimaryStale:    u.PrimaryStale,
		FallbackStale:   u.FallbackStale,
		WithinThreshold: u.Deviation.WithinThreshold,
	}
	if u.Price != nil {
		ev.Price = u.Price.String()
	}
	if u.Deviation.DeviationBps != policy.DeviationUndefined {
		bps := u.Deviation.DeviationBps
		ev.DeviationBps = &bps
	}
	s.enqueue(Event{Type: EventPriceUpdate, Feed: u.Feed, Price: ev})
}

// Notify queues a configuration change for broadcast.
func (s *WebSocketServer) Notify(_ context.Context, change policy.Change) error {
	s.enqueue(Event{Type: EventConfigChange, Feed: change.Feed, Change: &change})
	return nil
}

func (s *WebSocketServer) enqueue(ev Event) {
	ev.Timestamp = time.Now().UTC().Format(time.RFC3339)
	select {
	case s.events <- ev:
	case <-time.After(100 * time.Millisecond):
		s.logger.Warn("Event channel full, dropping event", "type", ev.Type, "feed", ev.Feed)
	}
}

// HandleWebSocket upgrades the request and registers the client.
func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection", "error", err.Error())
		return
	}

	client := &WebSocketClient{
		conn:            conn,
		send:            make(chan []byte, 256),
		server:          s,
		subscribedAll:   true, // Subscribe to all by default
		subscribedFeeds: make(map[string]bool),
	}

	s.registerClient(client)

	// Start client goroutines
	go client.writePump()
	go client.readPump()

	s.logger.Info("New WebSocket client connected", "remote", conn.RemoteAddr().String())
}

// ClientCount returns the number of connected clients.
func (s *WebSocketServer) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// registerClient adds a client to the server.
func (s *WebSocketServer) registerClient(client *WebSocketClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[client] = true
	metrics.WebSocketClients.Set(float64(len(s.clients)))
}

// unregisterClient removes a client from the server.
func (s *WebSocketServer) unregisterClient(client *WebSocketClient) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[client]; ok {
		delete(s.clients, client)
		close(client.send)
	}
	metrics.WebSocketClients.Set(float64(len(s.clients)))
}

// closeAll closes every connection; each readPump then unregisters its client.
func (s *WebSocketServer) closeAll() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for client := range s.clients {
		_ = client.conn.Close()
	}
}

// broadcast sends an event to all subscribed clients.
func (s *WebSocketServer) broadcast(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error("Failed to marshal event", "error", err.Error())
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for client := range s.clients {
		if client.shouldReceive(ev.Feed) {
			select {
			case client.send <- data:
			default:
				s.logger.Warn("Client send buffer full, skipping event", "type", ev.Type)
			}
		}
	}
}

// writePump sends messages to the WebSocket connection.
func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				// Channel closed
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.server.logger.Debug("Failed to write message", "error", err.Error())
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads messages from the WebSocket connection.
func (c *WebSocketClient) readPump() {
	defer func() {
		c.server.unregisterClient(c)
		_ = c.conn.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.server.logger.Error("WebSocket error", "error", err.Error())
			}
			break
		}

		c.handleMessage(message)
	}
}

// handleMessage processes client messages.
func (c *WebSocketClient) handleMessage(data []byte) {
	var msg WebSocketMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.server.logger.Warn("Invalid client message", "error", err.Error())
		return
	}

	switch msg.Type {
	case "subscribe":
		c.subscribe(msg.Feeds)
	case "unsubscribe":
		c.unsubscribe(msg.Feeds)
	case "ping":
		c.sendPong()
	default:
		c.server.logger.Warn("Unknown message type", "type", msg.Type)
	}
}

// subscribe subscribes to specific feeds.
func (c *WebSocketClient) subscribe(names []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(names) == 0 || (len(names) == 1 && names[0] == "*") {
		c.subscribedAll = true
		c.subscribedFeeds = make(map[string]bool)
	} else {
		c.subscribedAll = false
		for _, name := range names {
			c.subscribedFeeds[name] = true
		}
	}

	c.server.logger.Debug("Client subscribed", "feeds", names)
}

// unsubscribe unsubscribes from specific feeds.
func (c *WebSocketClient) unsubscribe(names []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(names) == 0 || (len(names) == 1 && names[0] == "*") {
		c.subscribedAll = false
		c.subscribedFeeds = make(map[string]bool)
	} else {
		for _, name := range names {
			delete(c.subscribedFeeds, name)
		}
	}

	c.server.logger.Debug("Client unsubscribed", "feeds", names)
}

// shouldReceive checks if client should receive events of this feed.
func (c *WebSocketClient) shouldReceive(feed string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subscribedAll || c.subscribedFeeds[feed]
}

// sendPong sends a pong response.
func (c *WebSocketClient) sendPong() {
	pong := map[string]string{"type": "pong"}
	data, _ := json.Marshal(pong)
	select {
	case c.send <- data:
	default:
	}
}
