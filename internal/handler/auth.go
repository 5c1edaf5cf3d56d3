package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/k1s0-platform/system-server-go-print-portal/internal/authapi"
	"github.com/k1s0-platform/system-server-go-print-portal/internal/autherr"
	"github.com/k1s0-platform/system-server-go-print-portal/internal/cookie"
)

// loginRequest is the login form body.
type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// AuthHandler serves the auth endpoints and owns the refresh credential cookie.
type AuthHandler struct {
	backend *authapi.Client
	cookies *cookie.Manager
	logger  *slog.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(backend *authapi.Client, cookies *cookie.Manager, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{
		backend: backend,
		cookies: cookies,
		logger:  logger,
	}
}

// Login forwards the credentials to the backend and re-issues the refresh
// credential with the edge's cookie attributes.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "PORTAL_AUTH_BAD_REQUEST",
			"message": "username and password are required",
		})
		return
	}

	result, err := h.backend.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, autherr.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "PORTAL_AUTH_INVALID_CREDENTIALS",
				"message": "Invalid username or password",
			})
			return
		}
		h.logger.Error("login failed", slog.String("error", err.Error()))
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "PORTAL_AUTH_BACKEND_UNAVAILABLE",
			"message": "Authentication service unavailable",
		})
		return
	}

	if result.RefreshCredential != "" {
		h.cookies.Set(c.Writer, result.RefreshCredential)
	}

	c.JSON(http.StatusOK, gin.H{
		"accessToken": result.AccessToken,
		"user":        result.User,
	})
}

// Refresh exchanges the refresh credential cookie for a new access token.
// A rejected credential is deleted and answered with 401; backend trouble is
// answered with 502 and leaves the cookie alone.
func (h *AuthHandler) Refresh(c *gin.Context) {
	credential := h.cookies.Read(c.Request)
	if credential == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "PORTAL_AUTH_NO_CREDENTIAL",
			"message": "Refresh credential not found",
		})
		return
	}

	result, err := h.backend.Refresh(c.Request.Context(), credential)
	if err != nil {
		if errors.Is(err, autherr.ErrAuthExpired) {
			h.cookies.Delete(c.Writer)
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "PORTAL_AUTH_EXPIRED",
				"message": "Session expired, please log in again",
			})
			return
		}
		h.logger.Warn("refresh failed", slog.String("error", err.Error()))
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "PORTAL_AUTH_BACKEND_UNAVAILABLE",
			"message": "Authentication service unavailable",
		})
		return
	}

	if result.RefreshCredential != "" {
		h.cookies.Set(c.Writer, result.RefreshCredential)
	}

	c.JSON(http.StatusOK, gin.H{"accessToken": result.AccessToken})
}

// Logout invalidates the credential at the backend on a best-effort basis
// and deletes the cookie. It always succeeds.
func (h *AuthHandler) Logout(c *gin.Context) {
	if credential := h.cookies.Read(c.Request); credential != "" {
		if err := h.backend.Logout(c.Request.Context(), credential); err != nil {
			h.logger.Warn("backend logout failed", slog.String("error", err.Error()))
		}
	}

	h.cookies.Delete(c.Writer)
	c.JSON(http.StatusOK, gin.H{"status": "logged_out"})
}

// ClearSession deletes the cookie without contacting the backend.
func (h *AuthHandler) ClearSession(c *gin.Context) {
	h.cookies.Delete(c.Writer)
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}
