package ws

import (
	"log"

	"github.com/gorilla/websocket"
)

type Connection struct {
	id   string
	log  *log.Logger
	conn *websocket.Conn
	hub  *Hub
	send chan Message

	closeOnce func()
}

func NewConnection(conn *websocket.Conn, hub *Hub, id string, logger *log.Logger) *Connection {
	c := &Connection{
		id:   id,
		log:  logger,
		conn: conn,
		hub:  hub,
		send: make(chan Message, observerSendBufferSize),
	}
	var once bool
	c.closeOnce = func() {
		if !once {
			once = true
			close(c.send)
		}
	}
	return c
}

// ReadPump discards inbound frames (observers are read-only) and detects
// disconnects.
func (c *Connection) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		if err := c.conn.Close(); err != nil {
			c.log.Printf("[Hub] observer %s close error: %v", c.id, err)
		}
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Printf("[Hub] observer %s unexpected close: %v", c.id, err)
			}
			return
		}
	}
}

func (c *Connection) WritePump() {
	defer func() {
		if err := c.conn.Close(); err != nil {
			c.log.Printf("[Hub] observer %s close error: %v", c.id, err)
		}
	}()

	for message := range c.send {
		if err := c.conn.WriteJSON(message); err != nil {
			c.log.Printf("[Hub] observer %s write error: %v", c.id, err)
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// CloseSend stops the write pump; safe to call from the hub only.
func (c *Connection) CloseSend() {
	c.closeOnce()
}
