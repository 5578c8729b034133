package api

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/scarybot/bogamail/internal/auth"
	"github.com/scarybot/bogamail/internal/observability"
	ws "github.com/scarybot/bogamail/internal/websocket"
)

// WebSocketHandler handles /api/v1/ws, streaming pipeline events.
type WebSocketHandler struct {
	auth *auth.Authenticator
	hub  *ws.Hub
}

func NewWebSocketHandler(a *auth.Authenticator, hub *ws.Hub) *WebSocketHandler {
	return &WebSocketHandler{auth: a, hub: hub}
}

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Served behind a reverse proxy in a trusted environment.
		return true
	},
}

// Handle upgrades the connection and registers it with the hub. Browsers
// cannot set headers on WebSocket connections, so the token may also come
// from ?token=.
func (h *WebSocketHandler) Handle(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token, _ = auth.BearerToken(r.Header.Get("Authorization"))
	}
	if !h.auth.Valid(token) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		observability.Logger().Warn("WebSocketHandler: failed to upgrade connection", "error", err)
		return
	}

	client := h.hub.Register(conn)
	if client == nil {
		return
	}
	observability.Logger().Info("WebSocketHandler: connection established", "active", h.hub.ActiveConnections())

	go h.readLoop(client)
}

// readLoop discards inbound frames until the peer disconnects.
func (h *WebSocketHandler) readLoop(client *ws.Client) {
	conn := client.Conn()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.hub.Unregister(client)
}
