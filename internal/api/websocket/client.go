package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/taskorch/engine/internal/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBufferSize = 256
)

// Client represents one WebSocket connection tailing a single task's trace.
type Client struct {
	ID            string
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	subscriptions map[string]bool
	subMu         sync.RWMutex
}

// NewClient creates a Client wired into hub.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		ID:            uuid.New().String()[:8],
		hub:           hub,
		conn:          conn,
		send:          make(chan []byte, sendBufferSize),
		subscriptions: make(map[string]bool),
	}
}

// Subscribe subscribes the client to one task-id's trace.
func (c *Client) Subscribe(taskID string) {
	c.subMu.Lock()
	c.subscriptions[taskID] = true
	c.subMu.Unlock()
}

// Unsubscribe removes a task-id subscription.
func (c *Client) Unsubscribe(taskID string) {
	c.subMu.Lock()
	delete(c.subscriptions, taskID)
	c.subMu.Unlock()
}

// IsSubscribed reports whether the client should receive events for taskID.
// A client with no subscriptions receives everything, the same default the
// teacher's hub applies for an operator console that has not yet narrowed
// its view.
func (c *Client) IsSubscribed(taskID string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	if len(c.subscriptions) == 0 {
		return true
	}
	return c.subscriptions[taskID]
}

// ReadPump pumps subscription control messages from the connection.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Error().Err(err).Str("client_id", c.ID).Msg("websocket read error")
			}
			break
		}
		c.handleMessage(message)
	}
}

// WritePump pumps trace events from the hub to the connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)

			n := len(c.send)
			for i := 0; i < n; i++ {
				_, _ = w.Write([]byte{'\n'})
				_, _ = w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// clientMessage is a subscription command sent by the client.
type clientMessage struct {
	Action string `json:"action"`
	TaskID string `json:"task_id,omitempty"`
}

func (c *Client) handleMessage(raw []byte) {
	var msg clientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		logger.Debug().Str("client_id", c.ID).Msg("websocket: ignoring malformed client message")
		return
	}
	switch msg.Action {
	case "subscribe":
		if msg.TaskID != "" {
			c.Subscribe(msg.TaskID)
		}
	case "unsubscribe":
		if msg.TaskID != "" {
			c.Unsubscribe(msg.TaskID)
		}
	}
}
