package websocket

import (
	"encoding/json"
	"time"

	"github.com/apex/log"
	"github.com/gorilla/websocket"

	"missing-persons-service/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// Client represents one WebSocket connection for one authenticated
// identity.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan models.PushMessage
	identity string
}

// NewClient wraps an upgraded connection. The caller registers it with the
// hub and starts the pumps.
func NewClient(hub *Hub, conn *websocket.Conn, identity string) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan models.PushMessage, 256),
		identity: identity,
	}
}

// Identity returns the authenticated identity behind this connection.
func (c *Client) Identity() string {
	return c.identity
}

// ReadPump consumes the connection until it drops. Clients do not send
// application messages over this stream; the read loop exists to detect
// disconnects and answer pings.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warnf("Unexpected close for identity %s: %v", c.identity, err)
			}
			break
		}
	}
}

// WritePump writes queued push messages to the connection and keeps it
// alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := json.Marshal(msg)
			if err != nil {
				log.Errorf("Failed to marshal push message for identity %s: %v", c.identity, err)
				continue
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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
