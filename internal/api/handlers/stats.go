package handlers

import (
	"net/http"

	"github.com/filip-herceg/reviewpoint-realtime/internal/websocket"
	"github.com/gin-gonic/gin"
)

type StatsHandler struct {
	hub *websocket.Hub
}

func NewStatsHandler(hub *websocket.Hub) *StatsHandler {
	return &StatsHandler{hub: hub}
}

// HandleStats returns a snapshot of gateway statistics. Counts may lag live
// membership slightly; that staleness is accepted for statistics.
func (h *StatsHandler) HandleStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.hub.Stats())
}

// HandleHealth is the liveness probe
func (h *StatsHandler) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
