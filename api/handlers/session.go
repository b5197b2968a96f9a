package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/remote-mirror/backend/internal/ws"
)

// SessionHandler exposes the caller's relay session and hub counters.
type SessionHandler struct {
	hub *ws.Hub
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(hub *ws.Hub) *SessionHandler {
	return &SessionHandler{hub: hub}
}

// Get handles GET /api/session - the caller's capture and viewers.
func (h *SessionHandler) Get(c *gin.Context) {
	c.JSON(http.StatusOK, h.hub.Session(getUserID(c)))
}

// Stats handles GET /api/stats - relay counters.
func (h *SessionHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.hub.Stats())
}

// RegisterRoutes registers the session routes on a token-protected group.
func (h *SessionHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/session", h.Get)
	rg.GET("/stats", h.Stats)
}
