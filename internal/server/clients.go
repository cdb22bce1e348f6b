package server

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/adcondev/print-agent/internal/printjob"
)

const writeTimeout = 5 * time.Second

// Event is the outbound envelope for job events.
type Event struct {
	Tipo  string `json:"tipo"`
	Datos any    `json:"datos,omitempty"`
}

// Client is one local WebSocket connection.
type Client struct {
	ID   string
	Addr string
	conn *websocket.Conn
}

// Category returns the client category stamped on its jobs.
func (c *Client) Category() string { return printjob.ClientLocal }

// Emit sends an event to the client.
func (c *Client) Emit(event string, payload any) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, c.conn, Event{Tipo: event, Datos: payload})
}

func (c *Client) write(ctx context.Context, v any) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, c.conn, v)
}

// ClientRegistry manages connected WebSocket clients thread-safely
type ClientRegistry struct {
	clients map[*Client]bool
	mu      sync.RWMutex
}

// NewClientRegistry creates a new client registry
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{
		clients: make(map[*Client]bool),
	}
}

// Add registers a new client connection
func (r *ClientRegistry) Add(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c] = true
}

// Remove unregisters a client connection
func (r *ClientRegistry) Remove(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, c)
}

// Count returns the number of connected clients
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// ForEach executes a function for each connected client over a snapshot,
// so fn may block without holding the lock.
func (r *ClientRegistry) ForEach(fn func(*Client)) {
	r.mu.RLock()
	snapshot := make([]*Client, 0, len(r.clients))
	for c := range r.clients {
		snapshot = append(snapshot, c)
	}
	r.mu.RUnlock()

	for _, c := range snapshot {
		fn(c)
	}
}
