package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/xtrntr/escrow/internal/models"
	"go.uber.org/zap"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub pushes events to connected websocket clients
type Hub struct {
	clients   map[*wsClient]bool
	clientsMu sync.RWMutex
	log       *zap.Logger
}

// NewHub creates an empty hub
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients: make(map[*wsClient]bool),
		log:     logger,
	}
}

// Publish broadcasts event to every client; clients that fail to receive it are dropped
func (h *Hub) Publish(ctx context.Context, event models.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	var failed []*wsClient
	h.clientsMu.RLock()
	for client := range h.clients {
		if err := client.write(data); err != nil {
			h.log.Debug("failed to send message", zap.Error(err))
			failed = append(failed, client)
		}
	}
	h.clientsMu.RUnlock()

	for _, client := range failed {
		h.remove(client)
	}
	return nil
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and keeps the client registered until it disconnects
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("failed to upgrade connection", zap.Error(err))
		return
	}

	client := &wsClient{conn: conn}
	h.clientsMu.Lock()
	h.clients[client] = true
	h.clientsMu.Unlock()

	// Keep connection alive and handle disconnection
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.remove(client)
			return
		}
	}
}

// Close disconnects every client
func (h *Hub) Close() error {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	for client := range h.clients {
		client.conn.Close()
		delete(h.clients, client)
	}
	return nil
}

func (h *Hub) remove(client *wsClient) {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	if h.clients[client] {
		delete(h.clients, client)
		client.conn.Close()
	}
}
