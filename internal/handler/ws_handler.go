package handler

import (
	"net/http"
	"time"

	"github.com/dialverse/call-gateway/internal/core/notify"
	"github.com/dialverse/call-gateway/pkg/logger"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The dashboard is served from a different origin than the API.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSHandler streams call deltas to dashboard clients.
type WSHandler struct {
	hub *notify.Hub
}

// NewWSHandler creates a new websocket handler
func NewWSHandler(hub *notify.Hub) *WSHandler {
	return &WSHandler{hub: hub}
}

// ServeWS upgrades the connection and pumps hub deltas until the client
// disconnects.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Base().Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	sub := h.hub.Subscribe()
	defer h.hub.Unsubscribe(sub)

	go h.readPump(conn)
	h.writePump(conn, sub)
}

// readPump discards client messages; the socket is push-only. It exists to
// process pongs and to notice the disconnect.
func (h *WSHandler) readPump(conn *websocket.Conn) {
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *WSHandler) writePump(conn *websocket.Conn, sub *notify.Subscriber) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg, ok := <-sub.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SetupWSRoutes registers the websocket endpoint.
func (h *WSHandler) SetupWSRoutes(router *mux.Router) {
	router.HandleFunc("/ws", h.ServeWS).Methods("GET")
}
