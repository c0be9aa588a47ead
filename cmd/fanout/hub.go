package main

import (
	"context"
	"sync"

	"github.com/lyzr/agentflow/common/logger"
)

// Hub tracks live WebSocket subscribers per execution and fans incoming
// events out to them. Registration and broadcast funnel through one
// goroutine so connection bookkeeping never races.
type Hub struct {
	log *logger.Logger

	// execution id -> subscribers
	connections map[string][]*Client
	mutex       sync.RWMutex

	register   chan *Client
	unregister chan *Client
	events     chan *Event
}

// Event is one execution lifecycle event ready for fan-out
type Event struct {
	ExecutionID string
	Data        []byte
}

// NewHub creates an empty hub
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		log:         log,
		connections: make(map[string][]*Client),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		events:      make(chan *Event, 256),
	}
}

// Run processes registrations and events until ctx is done
func (h *Hub) Run(ctx context.Context) {
	h.log.Info("fanout hub started")

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case event := <-h.events:
			h.fanOut(event)
		}
	}
}

// Broadcast queues an event for delivery. Drops the event when the hub
// queue is saturated; watchers recover from the status cache.
func (h *Hub) Broadcast(executionID string, data []byte) {
	select {
	case h.events <- &Event{ExecutionID: executionID, Data: data}:
	default:
		h.log.Warn("hub event queue full, dropping event", "execution_id", executionID)
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.connections[client.executionID] = append(h.connections[client.executionID], client)
	h.log.Debug("subscriber registered",
		"execution_id", client.executionID,
		"watchers", len(h.connections[client.executionID]),
	)
}

func (h *Hub) unregisterClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	clients := h.connections[client.executionID]
	for i, c := range clients {
		if c == client {
			h.connections[client.executionID] = append(clients[:i], clients[i+1:]...)
			close(client.send)

			if len(h.connections[client.executionID]) == 0 {
				delete(h.connections, client.executionID)
			}

			h.log.Debug("subscriber unregistered",
				"execution_id", client.executionID,
				"watchers", len(h.connections[client.executionID]),
			)
			break
		}
	}
}

// fanOut delivers one event to every watcher of its execution. A slow
// client loses the frame rather than stalling the rest; the send channel
// is only ever closed by unregisterClient.
func (h *Hub) fanOut(event *Event) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := h.connections[event.ExecutionID]
	if len(clients) == 0 {
		return
	}

	for _, client := range clients {
		select {
		case client.send <- event.Data:
		default:
			h.log.Debug("subscriber send buffer full, dropping frame",
				"execution_id", client.executionID)
		}
	}
}

func (h *Hub) closeAll() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for id, clients := range h.connections {
		for _, client := range clients {
			close(client.send)
		}
		delete(h.connections, id)
	}
}

// ConnectionCount returns the number of open WebSocket connections
func (h *Hub) ConnectionCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	count := 0
	for _, clients := range h.connections {
		count += len(clients)
	}
	return count
}

// ExecutionCount returns the number of executions with at least one watcher
func (h *Hub) ExecutionCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	return len(h.connections)
}
