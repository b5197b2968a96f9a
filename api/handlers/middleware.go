package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/remote-mirror/backend/internal/auth"
	"github.com/remote-mirror/backend/internal/model"
)

const (
	ctxUserID   = "userID"
	ctxUsername = "username"
)

// TokenVerifier maps an access token to its claims.
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

// bearerToken extracts the token from an "Authorization: Bearer <token>" header.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// RequireToken rejects requests without a valid bearer token: 401 when no
// token is present, 403 when it does not verify.
func RequireToken(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.Request)
		if token == "" {
			abortWithError(c, http.StatusUnauthorized, CodeUnauthorized, "Access token required")
			return
		}

		claims, err := verifier.Verify(token)
		if err != nil {
			abortWithError(c, http.StatusForbidden, CodeForbidden, "Invalid token: "+err.Error())
			return
		}

		c.Set(ctxUserID, claims.UserID)
		c.Set(ctxUsername, claims.Username)
		c.Next()
	}
}

// getUserID returns the identity RequireToken stored on the context.
func getUserID(c *gin.Context) model.UserID {
	if v, ok := c.Get(ctxUserID); ok {
		if id, ok := v.(model.UserID); ok {
			return id
		}
	}
	return ""
}
