package main

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/lyzr/agentflow/common/logger"
)

const (
	// Time allowed to write a frame to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong from the peer
	pongWait = 30 * time.Second

	// Ping interval, must be under pongWait
	pingPeriod = 25 * time.Second

	// Peers only send pongs, never data
	maxMessageSize = 512
)

// Client is one WebSocket subscriber watching a single execution
type Client struct {
	hub         *Hub
	conn        *websocket.Conn
	executionID string
	send        chan []byte
	log         *logger.Logger
}

// NewClient wraps an upgraded connection. The send buffer absorbs event
// bursts from parallel branches.
func NewClient(hub *Hub, conn *websocket.Conn, executionID string, log *logger.Logger) *Client {
	return &Client{
		hub:         hub,
		conn:        conn,
		executionID: executionID,
		send:        make(chan []byte, 512),
		log:         log,
	}
}

// readPump drains the connection. The service is server-push only, so
// the pump exists to answer pings and notice disconnects.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Debug("websocket closed", "execution_id", c.executionID, "error", err)
			}
			break
		}
		// inbound frames are ignored
	}
}

// writePump pushes queued events to the connection. Each event goes out
// as its own text frame so clients can parse frames as standalone JSON.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// flush anything already queued, one frame each
			n := len(c.send)
			for i := 0; i < n; i++ {
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.conn.WriteMessage(websocket.TextMessage, <-c.send); err != nil {
					return
				}
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
