package devserver

import (
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"chat-sync/internal/models"
)

// client is one websocket connection with its joined-conversation scope.
type client struct {
	conn    *websocket.Conn
	userID  int
	writeMu sync.Mutex
	mu      sync.Mutex
	joined  map[string]struct{}
}

func (c *client) join(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.joined[conversationID] = struct{}{}
}

func (c *client) leave(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.joined, conversationID)
}

func (c *client) hasJoined(conversationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.joined[conversationID]
	return ok
}

func (c *client) send(ev models.Event) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(ev)
}

// Hub maintains the active websocket clients and fans events out to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*client]bool)}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

func (h *Hub) snapshot() []*client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	return clients
}

// BroadcastToConversation delivers an event to every client that joined the
// conversation, optionally excluding one connection.
func (h *Hub) BroadcastToConversation(conversationID string, ev models.Event, exclude *client) {
	for _, c := range h.snapshot() {
		if c == exclude || !c.hasJoined(conversationID) {
			continue
		}
		h.deliver(c, ev)
	}
}

// BroadcastToUsers delivers an event to every connection of the given users,
// regardless of joined scope. Used for conversation lifecycle events.
func (h *Hub) BroadcastToUsers(userIDs []int, ev models.Event) {
	members := make(map[int]struct{}, len(userIDs))
	for _, id := range userIDs {
		members[id] = struct{}{}
	}
	for _, c := range h.snapshot() {
		if _, ok := members[c.userID]; !ok {
			continue
		}
		h.deliver(c, ev)
	}
}

// BroadcastAll delivers an event to every connected client.
func (h *Hub) BroadcastAll(ev models.Event) {
	for _, c := range h.snapshot() {
		h.deliver(c, ev)
	}
}

func (h *Hub) deliver(c *client, ev models.Event) {
	if err := c.send(ev); err != nil {
		log.Printf("websocket write error: %v", err)
		c.conn.Close()
		h.remove(c)
	}
}
