package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"todoflow/internal/logger"
	"todoflow/internal/notify"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browser clients connect cross-origin during local development.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type WSHandler struct {
	hub *notify.Hub
}

func NewWSHandler(hub *notify.Hub) *WSHandler {
	return &WSHandler{hub: hub}
}

// Serve upgrades the request and registers the socket with the hub under
// the authenticated user. The read loop exists only to observe the close.
func (h *WSHandler) Serve(c *gin.Context) {
	ownerID, ok := currentUserID(c)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed")
		return
	}

	h.hub.Add(ownerID, conn)

	go func() {
		defer func() {
			h.hub.Remove(ownerID, conn)
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
