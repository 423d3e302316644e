package main

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/marketedge/qtrader/internal/dashboard"
	"github.com/shopspring/decimal"
)

// wsClient is one connected WebSocket client.
type wsClient struct {
	id   string
	send chan interface{}
}

// wsMessage is the envelope for every message pushed to dashboard clients.
type wsMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp string      `json:"timestamp"`
}

// clientHub fans a message out to every connected dashboard client. It
// replaces a generic broadcaster with one built directly around wsMessage,
// the only payload shape this server ever sends — bankroll snapshots on a
// timer, decision events as internal/dashboard.EventListener reports them.
type clientHub struct {
	mu       sync.RWMutex
	clients  map[*wsClient]bool
	register chan *wsClient
	drop     chan *wsClient
	messages chan wsMessage
	shutdown chan struct{}
	logger   *log.Logger
}

func newClientHub(logger *log.Logger) *clientHub {
	return &clientHub{
		clients:  make(map[*wsClient]bool),
		register: make(chan *wsClient),
		drop:     make(chan *wsClient),
		messages: make(chan wsMessage, 256),
		shutdown: make(chan struct{}),
		logger:   logger,
	}
}

func (h *clientHub) Register(c *wsClient)   { h.register <- c }
func (h *clientHub) Unregister(c *wsClient) { h.drop <- c }

// Broadcast queues message for every connected client. It never blocks on a
// shut-down hub.
func (h *clientHub) Broadcast(message wsMessage) {
	select {
	case h.messages <- message:
	case <-h.shutdown:
	}
}

// Run drives the hub's register/unregister/broadcast loop; call it in its
// own goroutine for the server's lifetime.
func (h *clientHub) Run() {
	defer func() {
		h.logger.Println("dashboard hub: shutting down")
		close(h.shutdown)
	}()

	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Printf("dashboard hub: client registered (total: %d)", len(h.clients))

		case c := <-h.drop:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Printf("dashboard hub: client unregistered (total: %d)", len(h.clients))

		case message, ok := <-h.messages:
			if !ok {
				return
			}
			h.mu.RLock()
			clients := make([]*wsClient, 0, len(h.clients))
			for c := range h.clients {
				clients = append(clients, c)
			}
			h.mu.RUnlock()

			for _, c := range clients {
				select {
				case c.send <- message:
				default:
					h.logger.Printf("dashboard hub: client %s send buffer full, skipping", c.id)
				}
			}
		}
	}
}

// Shutdown disconnects every client and stops accepting new broadcasts.
func (h *clientHub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
	}
	h.clients = make(map[*wsClient]bool)
	close(h.messages)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins for development
		// In production, restrict to specific domains
		return true
	},
}

// handleWebSocket handles WebSocket connections
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Upgrade HTTP connection to WebSocket
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("websocket upgrade failed: %v", err)
		return
	}
	defer ws.Close()

	// Create client
	client := &wsClient{
		id:   r.RemoteAddr,
		send: make(chan interface{}, 256),
	}

	// Register client with the hub
	s.hub.Register(client)
	defer s.hub.Unregister(client)

	s.logger.Printf("websocket: client connected from %s", client.id)

	// Start goroutine to handle sending messages to this client
	go s.writePump(ws, client)

	// Read from client (handles ping/pong and disconnection detection)
	s.readPump(ws, client)
}

// writePump handles sending messages to a WebSocket client
func (s *Server) writePump(ws *websocket.Conn, client *wsClient) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case message, ok := <-client.send:
			ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				// Channel is closed, close connection
				ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// Write message as JSON
			if err := ws.WriteJSON(message); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					s.logger.Printf("websocket write error for %s: %v", client.id, err)
				}
				return
			}

		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump handles receiving messages from WebSocket client
func (s *Server) readPump(ws *websocket.Conn, client *wsClient) {
	defer func() {
		s.hub.Unregister(client)
		s.logger.Printf("websocket: client disconnected from %s", client.id)
	}()

	ws.SetReadDeadline(time.Now().Add(60 * time.Second))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		messageType, _, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Printf("websocket read error for %s: %v", client.id, err)
			}
			return
		}

		// We only expect ping/pong frames, not text messages
		// but we can handle them if needed
		if messageType == websocket.TextMessage {
			s.logger.Printf("websocket: received text message from %s", client.id)
		}
	}
}

// broadcastBankroll sends the current bankroll snapshot to every connected
// WebSocket client. Decision events themselves reach clients through
// broadcastDecisionEvent, fed by internal/dashboard.EventListener's Postgres
// NOTIFY subscription, not this ticker — bankroll has no NOTIFY trigger
// since it is a derived view, not a row.
func (s *Server) broadcastBankroll(ctx context.Context) error {
	prices, err := s.latestPrices(ctx)
	if err != nil {
		return err
	}

	roll, err := s.store.Ledger(decimal.NewFromFloat(s.cfg.StartingCash)).Bankroll(ctx, prices)
	if err != nil {
		return err
	}

	s.hub.Broadcast(wsMessage{
		Type:      "bankroll",
		Data:      bankrollResponse(roll),
		Timestamp: time.Now().Format(time.RFC3339),
	})
	return nil
}

// broadcastDecisionEvent republishes one decoded decision_events NOTIFY
// payload to every connected WebSocket client.
func (s *Server) broadcastDecisionEvent(ev dashboard.DecisionNotification) {
	s.hub.Broadcast(wsMessage{
		Type: "decision",
		Data: map[string]interface{}{
			"id": ev.ID, "symbol": ev.Symbol, "action": ev.Action,
			"executed": ev.Executed, "reward": ev.Reward,
		},
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// startPeriodicBroadcast sends periodic bankroll updates to all connected
// WebSocket clients.
func (s *Server) startPeriodicBroadcast(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.broadcastBankroll(ctx); err != nil {
				s.logger.Printf("failed to broadcast bankroll: %v", err)
			}

		case <-ctx.Done():
			return
		}
	}
}
