package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/remote-mirror/backend/internal/ws"
)

// RouterConfig is what SetupRouter wires together.
type RouterConfig struct {
	// Mode is the gin mode: debug, release or test.
	Mode     string
	Accounts Accounts
	Verifier TokenVerifier
	Hub      *ws.Hub
}

// SetupRouter builds the HTTP surface of the relay.
func SetupRouter(cfg RouterConfig) *gin.Engine {
	switch cfg.Mode {
	case gin.ReleaseMode, gin.TestMode:
		gin.SetMode(cfg.Mode)
	}

	r := gin.New()
	if cfg.Mode == gin.DebugMode {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})

	NewAuthHandler(cfg.Accounts).RegisterRoutes(r)
	NewWebSocketHandler(cfg.Hub).RegisterRoutes(r)

	api := r.Group("/api", RequireToken(cfg.Verifier))
	NewSessionHandler(cfg.Hub).RegisterRoutes(api)

	log.Info().Str("module", "api").Str("mode", cfg.Mode).Msg("router setup")
	return r
}

// corsMiddleware allows browser viewers served from another origin.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
