package ws

import (
	"log"
	"sync"

	"github.com/gorilla/websocket"
)

// client is one websocket connection, joined to at most one document.
type client struct {
	conn       *websocket.Conn
	send       chan []byte
	userID     string
	documentID string
	joined     bool

	// sendMu guards send against closeSend: the hub closes the channel
	// while the read pump may still be replying on it.
	sendMu sync.Mutex
	closed bool
}

func newClient(conn *websocket.Conn) *client {
	return &client{
		conn: conn,
		send: make(chan []byte, 256),
	}
}

func (c *client) writePump() {
	defer c.conn.Close()
	for {
		message, ok := <-c.send
		if !ok {
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			log.Printf("write to %s: %v", c.userID, err)
			return
		}
	}
}

// trySend queues a frame for this client without blocking the caller.
// Frames offered after closeSend are dropped.
func (c *client) trySend(data []byte) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// closeSend closes the outgoing channel exactly once. The write pump
// drains what is buffered, sends a close frame and tears the connection
// down.
func (c *client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}
