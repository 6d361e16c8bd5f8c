package websocket

import (
	"sync"

	"github.com/apex/log"

	"missing-persons-service/models"
)

// Hub maintains the live connections keyed by authenticated identity. One
// identity may hold several connections at once (two open tabs both get
// every push); deduplication happens at the ledger's read state, not here.
//
// The hub is a latency optimization over the notification ledger, never a
// delivery guarantee: a push to an identity with no registered connection
// is simply dropped and recovered from the ledger on the next reconnect.
type Hub struct {
	// clients maps identity -> set of its live connections.
	clients map[string]map[*Client]bool

	// Register requests from clients
	Register chan *Client

	// Unregister requests from clients
	Unregister chan *Client

	mutex sync.RWMutex

	stopChan chan struct{}

	// Statistics
	connectedClients int
	pushedMessages   int
}

// NewHub creates a new hub. The caller owns the lifecycle: Run at process
// start, Stop at shutdown.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		stopChan:   make(chan struct{}),
	}
}

// Run starts the hub's registration loop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.add(client)
			log.Infof("Client connected for identity %s. Total clients: %d", client.identity, h.ConnectedClients())

		case client := <-h.Unregister:
			h.remove(client)
			log.Infof("Client disconnected for identity %s. Total clients: %d", client.identity, h.ConnectedClients())

		case <-h.stopChan:
			h.closeAll()
			return
		}
	}
}

// Stop tears down the hub and closes every connection's send channel.
func (h *Hub) Stop() {
	close(h.stopChan)
}

// Publish fans a message out to every live connection of one identity,
// fire-and-forget. Slow consumers are dropped rather than blocking the
// fan-out; their clients recover from the ledger like any reconnect.
// Publishes for different identities proceed concurrently.
func (h *Hub) Publish(identity string, msg models.PushMessage) {
	// Sends happen under the read lock: a channel is only ever closed by
	// remove/closeAll under the write lock, so a registered client's send
	// channel cannot be closed out from under us here. Slow consumers are
	// collected and dropped after the lock is released.
	var slow []*Client

	h.mutex.RLock()
	conns := h.clients[identity]
	if len(conns) == 0 {
		h.mutex.RUnlock()
		return
	}
	for client := range conns {
		select {
		case client.send <- msg:
		default:
			slow = append(slow, client)
		}
	}
	h.mutex.RUnlock()

	for _, client := range slow {
		log.Warnf("Dropping slow connection for identity %s", identity)
		h.remove(client)
	}

	h.mutex.Lock()
	h.pushedMessages++
	h.mutex.Unlock()
}

// ConnectedClients returns the number of live connections across all
// identities.
func (h *Hub) ConnectedClients() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.connectedClients
}

// IdentityConnections returns how many connections one identity holds.
func (h *Hub) IdentityConnections(identity string) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients[identity])
}

// PushedMessages returns how many publishes reached at least one connection.
func (h *Hub) PushedMessages() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.pushedMessages
}

func (h *Hub) add(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	conns, ok := h.clients[client.identity]
	if !ok {
		conns = make(map[*Client]bool)
		h.clients[client.identity] = conns
	}
	conns[client] = true
	h.connectedClients++
}

func (h *Hub) remove(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	conns, ok := h.clients[client.identity]
	if !ok || !conns[client] {
		return
	}
	delete(conns, client)
	if len(conns) == 0 {
		delete(h.clients, client.identity)
	}
	close(client.send)
	h.connectedClients--
}

func (h *Hub) closeAll() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for identity, conns := range h.clients {
		for client := range conns {
			close(client.send)
		}
		delete(h.clients, identity)
	}
	h.connectedClients = 0
}
