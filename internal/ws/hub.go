// Package ws broadcasts session events to websocket observers. One hub
// serves one debug session; observers attach and detach freely while the
// REPL or TUI drives the session.
package ws

import (
	"encoding/json"
	"log"
	"sync"
)

const (
	observerSendBufferSize = 256
	eventBufferSize        = 256
)

type Hub struct {
	log    *log.Logger
	target string

	connections map[*Connection]struct{}

	register   chan *Connection
	unregister chan *Connection
	events     chan Message
	done       chan struct{}

	mu sync.RWMutex
}

func NewHub(target string, logger *log.Logger) *Hub {
	return &Hub{
		log:         logger,
		target:      target,
		connections: make(map[*Connection]struct{}),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		events:      make(chan Message, eventBufferSize),
		done:        make(chan struct{}),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn] = struct{}{}
			n := len(h.connections)
			h.mu.Unlock()
			h.log.Printf("[Hub] observer %s connected (%d total)", conn.id, n)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.connections[conn]; ok {
				delete(h.connections, conn)
				conn.CloseSend()
			}
			n := len(h.connections)
			h.mu.Unlock()
			h.log.Printf("[Hub] observer %s disconnected (%d remaining)", conn.id, n)

		case event := <-h.events:
			h.mu.RLock()
			var slow []*Connection
			for conn := range h.connections {
				select {
				case conn.send <- event:
				default:
					// A full send buffer means the observer stopped reading;
					// drop it rather than stalling the broadcast.
					slow = append(slow, conn)
				}
			}
			h.mu.RUnlock()
			for _, conn := range slow {
				h.log.Printf("[Hub] observer %s is slow, unregistering", conn.id)
				// Unregister would block: only this loop reads h.unregister.
				h.mu.Lock()
				if _, ok := h.connections[conn]; ok {
					delete(h.connections, conn)
					conn.CloseSend()
				}
				h.mu.Unlock()
			}

		case <-h.done:
			h.mu.Lock()
			for conn := range h.connections {
				delete(h.connections, conn)
				conn.CloseSend()
			}
			h.mu.Unlock()
			h.log.Printf("[Hub] shut down")
			return
		}
	}
}

func (h *Hub) Register(conn *Connection)   { h.register <- conn }
func (h *Hub) Unregister(conn *Connection) { h.unregister <- conn }

// Shutdown disconnects every observer and stops the run loop.
func (h *Hub) Shutdown() {
	close(h.done)
}

// PublishStop broadcasts one run-state change.
func (h *Hub) PublishStop(ev StopEventMsg) {
	ev.Type = EventStop
	h.broadcast(string(EventStop), ev)
}

// PublishLocals broadcasts a frame-0 snapshot taken by the driving shell.
func (h *Hub) PublishLocals(locals []LocalMsg) {
	h.broadcast(string(EventLocals), LocalsEvent{Type: EventLocals, Locals: locals})
}

// PublishRegions broadcasts a region summary.
func (h *Hub) PublishRegions(regions []RegionMsg) {
	h.broadcast(string(EventRegions), RegionsEvent{Type: EventRegions, Regions: regions})
}

func (h *Hub) broadcast(msgType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.Printf("[Hub] marshal %s event: %v", msgType, err)
		return
	}
	select {
	case h.events <- Message{Type: msgType, Data: data}:
	case <-h.done:
	}
}
