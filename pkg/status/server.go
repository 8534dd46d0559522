// Package status serves the rig's operator API: a small REST surface for
// snapshots and manual commands, plus a WebSocket feed that pushes state
// changes as the runner reports them.
package status

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"airlock-hil/pkg/log"
	"airlock-hil/pkg/session"
)

// RigAPI is the runner surface the server drives. *session.Runner
// satisfies it.
type RigAPI interface {
	Snapshot() session.Snapshot
	MoveRover(x float64) session.Snapshot
	RequestGate(id session.GateID, open bool) session.Snapshot
	SendRaw(cmd string) error
	Connected() bool
}

// Config holds server configuration.
type Config struct {
	Addr   string
	Rig    RigAPI
	Logger *log.Logger
}

// Server exposes the rig over HTTP.
type Server struct {
	rig    RigAPI
	addr   string
	logger *log.Logger

	httpServer *http.Server
	upgrader   websocket.Upgrader

	clientMu sync.RWMutex
	clients  map[int64]*wsClient
	nextID   int64

	running atomic.Bool
}

// New creates a status server. Call Start to begin listening, or mount
// Handler on an existing server.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = log.GetLogger("status")
	}
	return &Server{
		rig:     cfg.Rig,
		addr:    cfg.Addr,
		logger:  logger,
		clients: make(map[int64]*wsClient),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/snapshot", s.handleSnapshot)
	mux.HandleFunc("/rover/move", s.handleRoverMove)
	mux.HandleFunc("/gate", s.handleGate)
	mux.HandleFunc("/command", s.handleCommand)
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

// Start begins serving. It blocks until the server stops.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}
	s.running.Store(true)
	s.logger.WithField("addr", s.addr).Info("status server listening")
	return s.httpServer.ListenAndServe()
}

// Stop closes the listener and all WebSocket clients.
func (s *Server) Stop() error {
	s.running.Store(false)

	s.clientMu.Lock()
	for _, c := range s.clients {
		c.close()
	}
	s.clients = make(map[int64]*wsClient)
	s.clientMu.Unlock()

	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

// Broadcast pushes a snapshot to every WebSocket client. Wire it to the
// runner's notify callback; the runner already throttles the rate.
func (s *Server) Broadcast(snap session.Snapshot) {
	msg := stateMessage{Type: "state", Snapshot: snap, Connected: s.rig.Connected()}

	s.clientMu.RLock()
	defer s.clientMu.RUnlock()
	for _, c := range s.clients {
		c.send(msg)
	}
}

type stateMessage struct {
	Type      string           `json:"type"`
	Snapshot  session.Snapshot `json:"snapshot"`
	Connected bool             `json:"connected"`
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, stateMessage{Type: "state", Snapshot: s.rig.Snapshot(), Connected: s.rig.Connected()})
}

func (s *Server) handleRoverMove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		X float64 `json:"x"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	snap := s.rig.MoveRover(req.X)
	s.writeJSON(w, stateMessage{Type: "state", Snapshot: snap, Connected: s.rig.Connected()})
}

func (s *Server) handleGate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Gate string `json:"gate"`
		Open bool   `json:"open"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	var id session.GateID
	switch req.Gate {
	case "a", "A":
		id = session.GateA
	case "b", "B":
		id = session.GateB
	default:
		http.Error(w, "gate must be \"a\" or \"b\"", http.StatusBadRequest)
		return
	}
	snap := s.rig.RequestGate(id, req.Open)
	s.writeJSON(w, stateMessage{Type: "state", Snapshot: snap, Connected: s.rig.Connected()})
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Command string `json:"command"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Command == "" {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.rig.SendRaw(req.Command); err != nil {
		s.writeJSONStatus(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	s.writeJSON(w, map[string]string{"result": "sent"})
}

func (s *Server) writeJSON(w http.ResponseWriter, data any) {
	s.writeJSONStatus(w, http.StatusOK, data)
}

func (s *Server) writeJSONStatus(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

// wsClient is one WebSocket subscriber.
type wsClient struct {
	id     int64
	conn   *websocket.Conn
	sendCh chan stateMessage
	done   chan struct{}
	mu     sync.Mutex
}

func (c *wsClient) send(msg stateMessage) {
	select {
	case c.sendCh <- msg:
	case <-c.done:
	default:
		// Slow client; drop the update. The next one supersedes it anyway.
	}
}

func (c *wsClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
		return
	default:
		close(c.done)
	}
	c.conn.Close()
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case msg := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithField("error", err).Warn("websocket upgrade failed")
		return
	}

	client := &wsClient{
		id:     atomic.AddInt64(&s.nextID, 1),
		conn:   conn,
		sendCh: make(chan stateMessage, 16),
		done:   make(chan struct{}),
	}

	s.clientMu.Lock()
	s.clients[client.id] = client
	s.clientMu.Unlock()
	s.logger.WithField("client", client.id).Debug("websocket client connected")

	go client.writePump()

	// Push the current state so the client renders without waiting for a
	// change.
	client.send(stateMessage{Type: "state", Snapshot: s.rig.Snapshot(), Connected: s.rig.Connected()})

	// Read pump: the feed is one-way, but we must consume control frames
	// and detect disconnects.
	conn.SetReadLimit(4096)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	s.clientMu.Lock()
	delete(s.clients, client.id)
	s.clientMu.Unlock()
	client.close()
	s.logger.WithField("client", client.id).Debug("websocket client disconnected")
}
