package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/remote-mirror/backend/internal/model"
)

// Accounts is the part of the authenticator the auth endpoints need.
type Accounts interface {
	Register(ctx context.Context, username, password string) (model.UserID, error)
	Login(ctx context.Context, username, password string) (string, error)
}

// AuthHandler handles account registration and login.
type AuthHandler struct {
	accounts Accounts
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(accounts Accounts) *AuthHandler {
	return &AuthHandler{accounts: accounts}
}

// RegisterResponse is returned by POST /register.
type RegisterResponse struct {
	ID      model.UserID `json:"id"`
	Message string       `json:"message"`
}

// LoginResponse is returned by POST /login.
type LoginResponse struct {
	AccessToken string `json:"accessToken"`
}

// Register handles POST /register - creates an account.
func (h *AuthHandler) Register(c *gin.Context) {
	var req model.Credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, CodeValidation, "Invalid request body: "+err.Error())
		return
	}

	id, err := h.accounts.Register(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrCredentialsRequired),
			errors.Is(err, model.ErrUsernameTooLong),
			errors.Is(err, model.ErrPasswordTooLong):
			sendError(c, http.StatusBadRequest, CodeValidation, err.Error())
		case errors.Is(err, model.ErrDuplicateUsername):
			sendError(c, http.StatusBadRequest, CodeDuplicateUsername, "Username already exists")
		default:
			log.Error().Str("module", "api").Err(err).Msg("register failed")
			sendError(c, http.StatusInternalServerError, CodeInternal, "Error registering user")
		}
		return
	}

	c.JSON(http.StatusCreated, RegisterResponse{ID: id, Message: "User created successfully"})
}

// Login handles POST /login - exchanges credentials for an access token.
func (h *AuthHandler) Login(c *gin.Context) {
	var req model.Credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, CodeValidation, "Invalid request body: "+err.Error())
		return
	}

	token, err := h.accounts.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrCredentialsRequired):
			sendError(c, http.StatusBadRequest, CodeValidation, err.Error())
		case errors.Is(err, model.ErrInvalidCredentials):
			sendError(c, http.StatusBadRequest, CodeInvalidCredentials, "Invalid credentials")
		default:
			log.Error().Str("module", "api").Err(err).Msg("login failed")
			sendError(c, http.StatusInternalServerError, CodeInternal, "Error logging in")
		}
		return
	}

	c.JSON(http.StatusOK, LoginResponse{AccessToken: token})
}

// RegisterRoutes registers the auth routes.
func (h *AuthHandler) RegisterRoutes(r gin.IRoutes) {
	r.POST("/register", h.Register)
	r.POST("/login", h.Login)
}
