// Package telemetry streams per-frame solver stats to websocket clients.
package telemetry

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Frame is one stats sample pushed to every connected client.
type Frame struct {
	Frame    uint64  `json:"frame"`
	Objects  int     `json:"objects"`
	Pairs    int     `json:"pairs"`
	Contacts int     `json:"contacts"`
	Islands  int     `json:"islands"`
	StepMS   float64 `json:"step_ms"`
	GPUMS    float64 `json:"gpu_ms,omitempty"`
}

const writeTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The stats stream is local tooling; any origin may subscribe.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server fans stats frames out to websocket subscribers. Slow clients are
// dropped rather than allowed to stall the broadcast.
type Server struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
	httpSrv *http.Server
}

// NewServer returns a server not yet listening.
func NewServer() *Server {
	return &Server{clients: make(map[*websocket.Conn]struct{})}
}

// Start listens on addr and serves the websocket endpoint at /stats.
func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/stats", s.handleStats)
	s.httpSrv = &http.Server{Addr: addr, Handler: mux}

	ln := make(chan error, 1)
	go func() {
		err := s.httpSrv.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			ln <- err
		}
	}()
	select {
	case err := <-ln:
		return err
	case <-time.After(50 * time.Millisecond):
		return nil
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("telemetry: upgrade failed: %v", err)
		return
	}
	s.mu.Lock()
	s.clients[conn] = struct{}{}
	s.mu.Unlock()

	// Drain reads so pings and close frames are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.drop(conn)
				return
			}
		}
	}()
}

func (s *Server) drop(conn *websocket.Conn) {
	s.mu.Lock()
	if _, ok := s.clients[conn]; ok {
		delete(s.clients, conn)
		conn.Close()
	}
	s.mu.Unlock()
}

// Broadcast sends a frame to every client. Clients that fail the write are
// dropped.
func (s *Server) Broadcast(f Frame) {
	payload, err := json.Marshal(f)
	if err != nil {
		return
	}

	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for c := range s.clients {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
			s.drop(c)
		}
	}
}

// ClientCount reports connected subscribers.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Close drops all clients and stops the listener.
func (s *Server) Close() error {
	s.mu.Lock()
	for c := range s.clients {
		c.Close()
	}
	s.clients = make(map[*websocket.Conn]struct{})
	s.mu.Unlock()
	if s.httpSrv != nil {
		return s.httpSrv.Close()
	}
	return nil
}
