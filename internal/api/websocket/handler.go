package websocket

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/taskorch/engine/internal/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler upgrades /ws connections onto the Hub.
type Handler struct {
	hub *Hub
}

// NewHandler creates a Handler bound to hub.
func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// ServeWS handles a WebSocket upgrade request. An optional ?task_id= query
// parameter pre-subscribes the connection to one task's trace, the
// streaming counterpart of `GET /api/tasks/:id/trace?latest=true`.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error().Err(err).Msg("failed to upgrade websocket connection")
		return
	}

	client := NewClient(h.hub, conn)
	if taskID := r.URL.Query().Get("task_id"); taskID != "" {
		client.Subscribe(taskID)
	}

	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()

	logger.Info().Str("client_id", client.ID).Str("remote_addr", r.RemoteAddr).Msg("websocket client connected")
}
