package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// TraceEvent mirrors internal/api/websocket.TraceEvent: one line of a
// task's live trace tail.
type TraceEvent struct {
	TaskID string `json:"task_id"`
	Name   string `json:"name"`
	Data   any    `json:"data,omitempty"`
}

// TraceStream is a live connection to the /ws trace-tail endpoint.
// Grounded on the teacher's WebSocketClient (pkg/client/websocket.go): the
// same connect/readLoop/Events/Close shape, re-targeted from a fleet-wide
// event feed filtered by EventType onto a single task's trace tail
// pre-subscribed via the ?task_id= query parameter.
type TraceStream struct {
	conn      *websocket.Conn
	events    chan TraceEvent
	done      chan struct{}
	closeOnce sync.Once
}

// StreamTrace dials /ws, pre-subscribed to taskID's trace events.
func (c *Client) StreamTrace(ctx context.Context, taskID string) (*TraceStream, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("taskorch: invalid base URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws"
	q := u.Query()
	q.Set("task_id", taskID)
	u.RawQuery = q.Encode()

	headers := make(map[string][]string)
	if c.opts.apiKey != "" {
		headers["X-API-Key"] = []string{c.opts.apiKey}
	} else if c.opts.jwt != "" {
		headers["Authorization"] = []string{"Bearer " + c.opts.jwt}
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		return nil, fmt.Errorf("taskorch: websocket dial failed: %w", err)
	}

	ts := &TraceStream{
		conn:   conn,
		events: make(chan TraceEvent, 100),
		done:   make(chan struct{}),
	}
	go ts.readLoop()
	return ts, nil
}

func (ts *TraceStream) readLoop() {
	defer close(ts.events)
	for {
		_, message, err := ts.conn.ReadMessage()
		if err != nil {
			return
		}
		var event TraceEvent
		if err := json.Unmarshal(message, &event); err != nil {
			continue
		}
		select {
		case ts.events <- event:
		case <-ts.done:
			return
		}
	}
}

// Events returns the channel of incoming trace events. It closes when the
// connection drops or Close is called.
func (ts *TraceStream) Events() <-chan TraceEvent {
	return ts.events
}

// Subscribe adds another task-id to this connection's subscription set.
func (ts *TraceStream) Subscribe(taskID string) error {
	return ts.conn.WriteJSON(map[string]string{"action": "subscribe", "task_id": taskID})
}

// Unsubscribe removes a task-id from this connection's subscription set.
func (ts *TraceStream) Unsubscribe(taskID string) error {
	return ts.conn.WriteJSON(map[string]string{"action": "unsubscribe", "task_id": taskID})
}

// Close terminates the stream.
func (ts *TraceStream) Close() error {
	var err error
	ts.closeOnce.Do(func() {
		close(ts.done)
		err = ts.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = ts.conn.Close()
	})
	return err
}
