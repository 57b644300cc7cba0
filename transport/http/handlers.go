package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/identityserver"
)

// Envelope wraps every response body
type Envelope struct {
	Status  int         `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type authData struct {
	User        core.User `json:"user"`
	AccessToken string    `json:"access_token"`
}

// AuthHandlers contains HTTP handlers for the identity endpoints
type AuthHandlers struct {
	identity *identityserver.Service
	logger   *slog.Logger
}

// NewAuthHandlers creates new auth handlers
func NewAuthHandlers(identity *identityserver.Service, logger *slog.Logger) *AuthHandlers {
	return &AuthHandlers{
		identity: identity,
		logger:   logger,
	}
}

func respond(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, Envelope{Status: status, Message: message, Data: data})
}

func abort(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, Envelope{Status: status, Message: message})
}

// fail answers with the status a classified error carries, or 500
func (h *AuthHandlers) fail(c *gin.Context, err error) {
	var e *core.Error
	if errors.As(err, &e) && e.StatusCode != 0 {
		respond(c, e.StatusCode, e.Message, nil)
		return
	}
	h.logger.Error("request failed", "path", c.FullPath(), "error", err)
	respond(c, http.StatusInternalServerError, "Internal server error", nil)
}

// Signup handles account registration
func (h *AuthHandlers) Signup(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respond(c, http.StatusBadRequest, identityserver.MsgInvalidRequest, nil)
		return
	}

	result, err := h.identity.Signup(c.Request.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, "Signup successful", authData{User: result.User, AccessToken: result.AccessToken})
}

// Login handles email and password login
func (h *AuthHandlers) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respond(c, http.StatusBadRequest, identityserver.MsgInvalidRequest, nil)
		return
	}

	result, err := h.identity.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, "Login successful", authData{User: result.User, AccessToken: result.AccessToken})
}

// FederatedLogin handles login with a federated id token
func (h *AuthHandlers) FederatedLogin(c *gin.Context) {
	var req struct {
		IDToken string `json:"idToken" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respond(c, http.StatusBadRequest, identityserver.MsgInvalidRequest, nil)
		return
	}

	result, err := h.identity.FederatedLogin(c.Request.Context(), req.IDToken)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, "Login successful", authData{User: result.User, AccessToken: result.AccessToken})
}

// Nonce issues a challenge nonce for an address
func (h *AuthHandlers) Nonce(c *gin.Context) {
	var req struct {
		Address string `json:"address" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respond(c, http.StatusBadRequest, identityserver.MsgInvalidRequest, nil)
		return
	}

	nonce, err := h.identity.RequestNonce(c.Request.Context(), req.Address)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, "Nonce issued", gin.H{"nonce": nonce})
}

// WalletLogin handles login with a signed nonce
func (h *AuthHandlers) WalletLogin(c *gin.Context) {
	var req struct {
		Address   string `json:"address" binding:"required"`
		Signature string `json:"signature" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respond(c, http.StatusBadRequest, identityserver.MsgInvalidRequest, nil)
		return
	}

	result, err := h.identity.WalletLogin(c.Request.Context(), req.Address, req.Signature)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, "Login successful", authData{User: result.User, AccessToken: result.AccessToken})
}

// WalletLink links a signed wallet to the authenticated user
func (h *AuthHandlers) WalletLink(c *gin.Context) {
	var req struct {
		Address   string `json:"address" binding:"required"`
		Signature string `json:"signature" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respond(c, http.StatusBadRequest, identityserver.MsgInvalidRequest, nil)
		return
	}

	user, err := h.identity.WalletLink(c.Request.Context(), c.GetString(ctxAccessToken), req.Address, req.Signature)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, "Wallet linked", gin.H{"user": user})
}

// Me returns the authenticated user
func (h *AuthHandlers) Me(c *gin.Context) {
	user, exists := c.Get(ctxUser)
	if !exists {
		respond(c, http.StatusInternalServerError, "User not found in context", nil)
		return
	}
	respond(c, http.StatusOK, "OK", user)
}
