package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lyzr/agentflow/common/cache"
	"github.com/lyzr/agentflow/common/engine"
	"github.com/lyzr/agentflow/common/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: restrict origins once the dashboard origin is pinned down
		return true
	},
}

// Server upgrades watcher connections and answers stats queries
type Server struct {
	hub   *Hub
	cache cache.Cache
	log   *logger.Logger
}

// NewServer creates the HTTP-facing side of the fanout service
func NewServer(hub *Hub, c cache.Cache, log *logger.Logger) *Server {
	return &Server{
		hub:   hub,
		cache: c,
		log:   log,
	}
}

// HandleWebSocket upgrades the connection and registers the watcher.
// URL: /ws?execution=<id>
//
// The current progress record is queued as the first frame before live
// events, so a watcher joining mid-run starts from a full picture.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	executionID := r.URL.Query().Get("execution")
	if executionID == "" {
		http.Error(w, "execution query parameter required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(s.hub, conn, executionID, s.log)
	if snapshot := s.snapshot(r.Context(), executionID); snapshot != nil {
		client.send <- snapshot
	}
	s.hub.register <- client

	s.log.Info("watcher connected",
		"execution_id", executionID,
		"remote", r.RemoteAddr,
	)

	go client.writePump()
	go client.readPump()
}

// snapshot renders the cached progress record as a frame. Nil when the
// execution is unknown or the cache read fails; the watcher then only
// sees live events.
func (s *Server) snapshot(ctx context.Context, executionID string) []byte {
	state, found, err := engine.LoadExecutionState(ctx, s.cache, executionID)
	if err != nil {
		s.log.Warn("snapshot read failed", "execution_id", executionID, "error", err)
		return nil
	}
	if !found {
		return nil
	}

	payload := map[string]interface{}{
		"type":        "snapshot",
		"executionId": executionID,
		"timestamp":   float64(time.Now().UnixNano()) / 1e9,
		"state":       state,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return b
}

// HandleStats reports watcher counts.
// GET /stats
func (s *Server) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{
		"connections": s.hub.ConnectionCount(),
		"executions":  s.hub.ExecutionCount(),
	})
}
