package uploads

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

// MessageTypeProgress tags progress pushes.
const MessageTypeProgress = "upload_progress"

type progressMessage struct {
	Type string `json:"type"`
	Progress
}

type incomingMessage struct {
	Type string `json:"type"`
}

// Hub pushes upload progress to each user's open websocket connections.
type Hub struct {
	mu           sync.RWMutex
	clients      map[string]map[*hubClient]struct{}
	pingInterval time.Duration
	writeTimeout time.Duration
	logger       *log.Logger
}

type hubClient struct {
	userID  string
	conn    *websocket.Conn
	writeMu sync.Mutex
	stop    chan struct{}
	once    sync.Once
}

// NewHub creates an empty hub.
func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		clients:      make(map[string]map[*hubClient]struct{}),
		pingInterval: 30 * time.Second,
		writeTimeout: 10 * time.Second,
		logger:       logger,
	}
}

// Register attaches a connection to userID and serves it until it closes.
func (h *Hub) Register(userID string, conn *websocket.Conn) {
	client := &hubClient{userID: userID, conn: conn, stop: make(chan struct{})}

	h.mu.Lock()
	if h.clients[userID] == nil {
		h.clients[userID] = make(map[*hubClient]struct{})
	}
	h.clients[userID][client] = struct{}{}
	h.mu.Unlock()

	go h.pingLoop(client)
	go h.readMessages(client)

	h.logger.Debug("upload progress client connected", "user_id", userID)
}

// Notify sends progress to every connection of userID.
func (h *Hub) Notify(userID string, progress Progress) {
	h.mu.RLock()
	clients := make([]*hubClient, 0, len(h.clients[userID]))
	for client := range h.clients[userID] {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	message := progressMessage{Type: MessageTypeProgress, Progress: progress}
	for _, client := range clients {
		if err := h.write(client, message); err != nil {
			h.logger.Warn("progress push failed", "user_id", userID, "error", err)
			h.remove(client)
		}
	}
}

// ConnectionCount returns the number of open connections for userID.
func (h *Hub) ConnectionCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	var all []*hubClient
	for _, clients := range h.clients {
		for client := range clients {
			all = append(all, client)
		}
	}
	h.clients = make(map[string]map[*hubClient]struct{})
	h.mu.Unlock()

	for _, client := range all {
		client.close()
	}
}

func (h *Hub) write(client *hubClient, payload any) error {
	client.writeMu.Lock()
	defer client.writeMu.Unlock()
	_ = client.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
	return client.conn.WriteJSON(payload)
}

func (h *Hub) pingLoop(client *hubClient) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := h.write(client, incomingMessage{Type: "ping"}); err != nil {
				h.remove(client)
				return
			}
		case <-client.stop:
			return
		}
	}
}

func (h *Hub) readMessages(client *hubClient) {
	defer h.remove(client)
	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			return
		}
		var incoming incomingMessage
		if err := json.Unmarshal(data, &incoming); err != nil {
			h.logger.Debug("unparseable websocket message", "user_id", client.userID, "error", err)
			continue
		}
		if incoming.Type == "ping" {
			if err := h.write(client, incomingMessage{Type: "pong"}); err != nil {
				return
			}
		}
	}
}

func (h *Hub) remove(client *hubClient) {
	h.mu.Lock()
	if clients, ok := h.clients[client.userID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.clients, client.userID)
		}
	}
	h.mu.Unlock()
	client.close()
}

func (c *hubClient) close() {
	c.once.Do(func() {
		close(c.stop)
		_ = c.conn.Close()
	})
}
