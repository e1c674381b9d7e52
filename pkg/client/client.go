// Package client is a read-only observer of a memviz session: it attaches
// to the --serve websocket endpoint and receives stop, locals, and region
// events as they happen.
package client

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/code0-god/gdb-memviz/internal/ws"
)

// Event is one decoded observer frame.
type Event struct {
	Type ws.EventType
	Raw  json.RawMessage
}

type Client struct {
	serverURL string
	conn      *websocket.Conn
	events    chan Event
	done      chan struct{}
	target    atomic.Value // string
}

func New(serverURL string) *Client {
	return &Client{
		serverURL: serverURL,
		events:    make(chan Event, 64),
		done:      make(chan struct{}),
	}
}

// Connect dials the observer endpoint and starts the read pump.
func (c *Client) Connect() error {
	u := url.URL{Scheme: "ws", Host: c.serverURL, Path: "/ws"}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", u.String(), err)
	}
	c.conn = conn
	go c.readPump()
	return nil
}

// Events delivers decoded frames until the connection drops.
func (c *Client) Events() <-chan Event { return c.events }

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} { return c.done }

// Target returns the session's target path, once announced.
func (c *Client) Target() string {
	if v, ok := c.target.Load().(string); ok {
		return v
	}
	return ""
}

func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) readPump() {
	defer func() {
		close(c.done)
		close(c.events)
		_ = c.conn.Close()
	}()
	for {
		var msg ws.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Type == string(ws.EventSessionInfo) {
			var info ws.SessionInfoEvent
			if err := json.Unmarshal(msg.Data, &info); err == nil {
				c.target.Store(info.Target)
			}
		}
		select {
		case c.events <- Event{Type: ws.EventType(msg.Type), Raw: msg.Data}:
		default:
			// Never block the pump on a slow consumer.
		}
	}
}
