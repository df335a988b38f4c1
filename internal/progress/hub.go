// Package progress fans folder sync progress out to WebSocket clients.
package progress

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/sylpheed-mail/sylpheed-sub006/internal/folder"
)

// AllFolders is the subscription key of clients that want every event.
const AllFolders = "*"

// Client wraps a WebSocket connection.
type Client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *Client) write(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

// Hub manages connections subscribed to one folder path or to AllFolders.
type Hub struct {
	mu        sync.RWMutex
	clients   map[string]map[*Client]struct{} // folder -> set of clients
	maxPerKey int
	log       zerolog.Logger
}

// NewHub creates a Hub with a per-subscription connection limit.
func NewHub(maxPerKey int, log zerolog.Logger) *Hub {
	if maxPerKey <= 0 {
		maxPerKey = 10
	}
	return &Hub{
		clients:   make(map[string]map[*Client]struct{}),
		maxPerKey: maxPerKey,
		log:       log,
	}
}

// Register adds conn under key. Over the limit the connection is closed
// and nil is returned.
func (h *Hub) Register(key string, conn *websocket.Conn) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	keyClients, ok := h.clients[key]
	if !ok {
		keyClients = make(map[*Client]struct{})
		h.clients[key] = keyClients
	}

	if len(keyClients) >= h.maxPerKey {
		h.log.Warn().Str("folder", key).Int("max", h.maxPerKey).Msg("Too many progress listeners, closing new connection")
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too many connections"),
			time.Time{},
		)
		_ = conn.Close()
		return nil
	}

	client := &Client{conn: conn}
	keyClients[client] = struct{}{}
	return client
}

// Unregister removes client from key and closes its connection.
func (h *Hub) Unregister(key string, client *Client) {
	if client == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if keyClients, ok := h.clients[key]; ok {
		delete(keyClients, client)
		if len(keyClients) == 0 {
			delete(h.clients, key)
		}
	}

	_ = client.conn.Close()
}

// Publish sends p as JSON to the listeners of p.Folder and of AllFolders.
// It matches folder.ProgressFunc.
func (h *Hub) Publish(p folder.Progress) {
	msg, err := json.Marshal(p)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to encode progress")
		return
	}

	type target struct {
		key    string
		client *Client
	}
	var targets []target
	h.mu.RLock()
	for _, key := range []string{p.Folder, AllFolders} {
		for client := range h.clients[key] {
			targets = append(targets, target{key, client})
		}
	}
	h.mu.RUnlock()

	for _, t := range targets {
		if err := t.client.write(msg); err != nil {
			h.log.Debug().Err(err).Str("folder", t.key).Msg("Dropping progress listener")
			go h.Unregister(t.key, t.client)
		}
	}
}

// ActiveConnections returns the number of listeners registered under key.
func (h *Hub) ActiveConnections(key string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients[key])
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// maild listens on loopback by default.
		return true
	},
}

// ServeHTTP upgrades the request and keeps the connection registered until
// the peer goes away. ?folder=PATH narrows the events to one folder.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("folder")
	if key == "" {
		key = AllFolders
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to upgrade progress connection")
		return
	}

	client := h.Register(key, conn)
	if client == nil {
		return
	}
	h.log.Debug().Str("folder", key).Msg("Progress listener connected")

	go h.readLoop(key, client)
}

func (h *Hub) readLoop(key string, client *Client) {
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			break
		}
	}
	h.Unregister(key, client)
}
