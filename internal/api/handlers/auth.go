package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/orrn/kioskd/internal/api/middleware"
	"github.com/orrn/kioskd/internal/config"
)

// AuthHandler issues session and operator tokens.
type AuthHandler struct {
	cfg    config.AuthConfig
	logger *zap.Logger
}

// NewAuthHandler creates the handler.
func NewAuthHandler(cfg config.AuthConfig, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{cfg: cfg, logger: logger.Named("auth")}
}

// RegisterRoutes mounts the open auth routes.
func (h *AuthHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/session", h.CreateSession)
	r.POST("/admin/login", h.OperatorLogin)
}

type sessionResponse struct {
	Token     string    `json:"token"`
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CreateSession mints an anonymous kiosk session. Premium sessions are only
// issued through the operator surface.
func (h *AuthHandler) CreateSession(c *gin.Context) {
	sessionID := uuid.NewString()
	token, err := middleware.IssueSessionToken(h.cfg.SessionSecret, sessionID, false, h.cfg.TokenTTL)
	if err != nil {
		h.logger.Error("Failed to issue session token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
		return
	}

	c.JSON(http.StatusCreated, sessionResponse{
		Token:     token,
		SessionID: sessionID,
		ExpiresAt: time.Now().Add(h.cfg.TokenTTL),
	})
}

type loginRequest struct {
	Password string `json:"password" binding:"required"`
}

// OperatorLogin exchanges the operator password for an operator token.
func (h *AuthHandler) OperatorLogin(c *gin.Context) {
	if h.cfg.OperatorPasswordHash == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "operator login is not configured"})
		return
	}

	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password is required"})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(h.cfg.OperatorPasswordHash), []byte(req.Password)); err != nil {
		h.logger.Warn("Operator login rejected", zap.String("remote", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid password"})
		return
	}

	token, err := middleware.IssueOperatorToken(h.cfg.SessionSecret, h.cfg.TokenTTL)
	if err != nil {
		h.logger.Error("Failed to issue operator token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to log in"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token, "expires_at": time.Now().Add(h.cfg.TokenTTL)})
}
