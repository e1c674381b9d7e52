package ws

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Server accepts observer connections for one debug session's hub.
type Server struct {
	addr   string
	log    *log.Logger
	hub    *Hub
	target string
	arch   string
}

func NewServer(addr, target string, hub *Hub, logger *log.Logger) *Server {
	return &Server{addr: addr, log: logger, hub: hub, target: target}
}

// SetArch records the architecture announced to new observers.
func (s *Server) SetArch(arch string) { s.arch = arch }

// Handler returns the observer endpoints, for Serve or for embedding.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.attachObserver)
	mux.HandleFunc("/info", s.info)
	return mux
}

// Serve blocks listening for observers. Run it on its own goroutine.
func (s *Server) Serve() error {
	s.log.Printf("[Server] observer endpoint on %s", s.addr)
	return http.ListenAndServe(s.addr, s.Handler())
}

func (s *Server) info(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{
		"target": s.target,
		"arch":   s.arch,
	}); err != nil {
		s.log.Printf("[Server] encode info: %v", err)
	}
}

func (s *Server) attachObserver(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Printf("[Server] websocket upgrade failed: %v", err)
		return
	}

	observerID := uuid.New().String()
	c := NewConnection(conn, s.hub, observerID, s.log)
	go c.ReadPump()
	go c.WritePump()
	s.hub.Register(c)

	ack := SessionInfoEvent{
		Type:       EventSessionInfo,
		ObserverID: observerID,
		Target:     s.target,
		Arch:       s.arch,
	}
	data, err := json.Marshal(ack)
	if err != nil {
		s.log.Printf("[Server] marshal sessionInfo: %v", err)
		return
	}
	c.send <- Message{Type: string(EventSessionInfo), Data: data}
}
