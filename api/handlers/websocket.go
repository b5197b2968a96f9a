package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/remote-mirror/backend/internal/ws"
)

// WebSocketHandler accepts capture and viewer sockets.
type WebSocketHandler struct {
	hub *ws.Hub
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(hub *ws.Hub) *WebSocketHandler {
	return &WebSocketHandler{hub: hub}
}

// Connect handles GET /ws - upgrades to a relay connection.
// The token comes from the token query parameter or a bearer header; without
// either the client must send an auth message first. Token problems are
// reported by closing the socket with 1008, not with an HTTP status.
func (h *WebSocketHandler) Connect(c *gin.Context) {
	role, err := ws.ParseRole(c.Query("role"))
	if err != nil {
		sendError(c, http.StatusBadRequest, CodeValidation, err.Error())
		return
	}

	token := c.Query("token")
	if token == "" {
		token = bearerToken(c.Request)
	}

	if err := h.hub.Serve(c.Writer, c.Request, token, role); err != nil {
		// the upgrader has already written the HTTP error
		log.Debug().Str("module", "api").Err(err).Msg("websocket upgrade failed")
	}
}

// RegisterRoutes registers the WebSocket endpoints. Existing clients dial
// the server root, so it is served alongside /ws.
func (h *WebSocketHandler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/ws", h.Connect)
	r.GET("/", h.Connect)
}
