// Package hub broadcasts messages to a registry of connections built on
// top of the session package. It is not part of the wire codec; it is a
// collaborator that exercises frame.Writer.SendMessage from many goroutines
// against one connection at a time, each serialized by the writer's own
// sink lock.
package hub

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/kynetic-io/wsframe/frame"
	"github.com/kynetic-io/wsframe/session"
)

type broadcastMsg struct {
	payload []byte
	typ     frame.MessageType
}

// Hub manages a registry of session.Conn for broadcasting. It mirrors a
// classic fan-out event loop: registration and broadcast are channel
// operations serialized through Run, so the client map never needs its
// own lock against concurrent mutation from Run itself.
type Hub struct {
	clients map[*session.Conn]bool

	register   chan *session.Conn
	unregister chan *session.Conn
	broadcast  chan broadcastMsg

	done   chan struct{}
	closed bool
	wg     sync.WaitGroup

	mu sync.RWMutex
}

// NewHub returns a Hub with initialized channels. Run must be started in
// its own goroutine before Register/Broadcast have any effect.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*session.Conn]bool),
		register:   make(chan *session.Conn),
		unregister: make(chan *session.Conn),
		broadcast:  make(chan broadcastMsg, 256),
		done:       make(chan struct{}),
	}
}

// Run is the Hub's event loop. It blocks until Close is called.
func (h *Hub) Run() {
	h.wg.Add(1)
	defer h.wg.Done()

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				_ = client.Close(1000, nil)
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				go func(c *session.Conn, m broadcastMsg) {
					if err := c.SendMessage(m.payload, m.typ); err != nil {
						log.Warn().Str("conn_id", c.ID()).Err(err).Msg("broadcast write failed, unregistering")
						h.Unregister(c)
					}
				}(client, msg)
			}
			h.mu.RUnlock()

		case <-h.done:
			return
		}
	}
}

// Register adds a connection to the Hub's broadcast registry.
func (h *Hub) Register(client *session.Conn) {
	if h.isClosed() {
		return
	}
	h.register <- client
}

// Unregister removes a connection and closes it. Safe to call more than
// once for the same connection.
func (h *Hub) Unregister(client *session.Conn) {
	if h.isClosed() {
		return
	}
	h.unregister <- client
}

func (h *Hub) isClosed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closed
}

// Broadcast queues payload for delivery to every registered connection as
// a single-shot message of the given type. Returns once the message is
// queued (the queue holds 256 messages; when it is full, Broadcast blocks
// until Run takes one); delivery happens asynchronously in Run.
func (h *Hub) Broadcast(payload []byte, typ frame.MessageType) {
	if h.isClosed() {
		return
	}
	h.broadcast <- broadcastMsg{payload: payload, typ: typ}
}

// BroadcastText is a convenience wrapper around Broadcast for text messages.
func (h *Hub) BroadcastText(text string) {
	h.Broadcast([]byte(text), frame.TextMessage)
}

// BroadcastJSON marshals v and broadcasts it as a text message.
func (h *Hub) BroadcastJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(data, frame.TextMessage)
	return nil
}

// ClientCount returns the number of currently registered connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close stops the event loop and closes every registered connection. Safe
// to call more than once.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	close(h.done)
	h.wg.Wait()

	h.mu.Lock()
	for client := range h.clients {
		_ = client.Close(1001, []byte("hub shutting down"))
	}
	h.clients = make(map[*session.Conn]bool)
	h.mu.Unlock()

	close(h.register)
	close(h.unregister)
	close(h.broadcast)

	return nil
}
