package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/modelmint/backend/internal/middleware"
	"github.com/modelmint/backend/internal/services"
	"github.com/modelmint/backend/pkg/response"
)

type AuthHandler struct {
	authService   *services.AuthService
	initialTokens int64
}

func NewAuthHandler(authService *services.AuthService, initialTokens int64) *AuthHandler {
	return &AuthHandler{
		authService:   authService,
		initialTokens: initialTokens,
	}
}

// Register handles account creation
// POST /api/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req services.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	user, err := h.authService.Register(c.Request.Context(), &req, h.initialTokens)
	if err != nil {
		fail(c, err)
		return
	}

	response.Created(c, user)
}

// Login handles user login
// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req services.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.authService.Login(c.Request.Context(), &req, c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		fail(c, err)
		return
	}

	response.Success(c, result)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// Refresh rotates a refresh token and issues a new access/refresh pair
// POST /api/auth/refresh
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.authService.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		fail(c, err)
		return
	}

	response.Success(c, result)
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Logout revokes the caller's session family
// POST /api/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	var req logoutRequest
	// Body is optional; logout without a refresh token is a no-op.
	_ = c.ShouldBindJSON(&req)

	if err := h.authService.Logout(c.Request.Context(), middleware.GetUserID(c), req.RefreshToken); err != nil {
		fail(c, err)
		return
	}

	response.Success(c, gin.H{"message": "logged out"})
}

// DeleteAccount soft-disables the caller's account after credential
// re-confirmation, revoking every session and forfeiting any balance
// DELETE /api/auth/account
func (h *AuthHandler) DeleteAccount(c *gin.Context) {
	var req services.DeleteAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if err := h.authService.DeleteAccount(c.Request.Context(), middleware.GetUserID(c), &req); err != nil {
		fail(c, err)
		return
	}

	response.Success(c, gin.H{"message": "account deleted"})
}

// Me returns the current logged-in user
// GET /api/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	user, err := h.authService.GetUserByID(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		response.NotFound(c, "user not found")
		return
	}

	response.Success(c, user)
}
