package handlers

import (
	"net/http"

	"github.com/filip-herceg/reviewpoint-realtime/internal/api/middleware"
	"github.com/filip-herceg/reviewpoint-realtime/internal/websocket"
	"github.com/gin-gonic/gin"
)

type WSHandler struct {
	hub *websocket.Hub
}

func NewWSHandler(hub *websocket.Hub) *WSHandler {
	return &WSHandler{hub: hub}
}

// HandleWebSocket upgrades an authenticated request into a gateway session.
// The WS auth middleware has already validated the bearer token and resolved
// the identity; capacity refusal happens inside the hub with a
// distinguishable close code.
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	identity := c.GetString(middleware.IdentityKey)
	if identity == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	websocket.ServeWS(h.hub, c.Writer, c.Request, identity)
}
