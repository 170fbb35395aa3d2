package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orrn/kioskd/internal/api/middleware"
	"github.com/orrn/kioskd/internal/colorpark"
	"github.com/orrn/kioskd/internal/config"
	"github.com/orrn/kioskd/internal/core"
	"github.com/orrn/kioskd/internal/history"
)

// AdminHandler serves the operator surface: archive queries, correlation
// stats, the vendor queue passthrough and premium session minting.
type AdminHandler struct {
	authCfg      config.AuthConfig
	store        *history.Store
	correlations *core.CorrelationTable
	vendor       *colorpark.Client
	logger       *zap.Logger
}

// NewAdminHandler creates the handler. The store and vendor client may be
// nil when those subsystems are disabled.
func NewAdminHandler(authCfg config.AuthConfig, store *history.Store, correlations *core.CorrelationTable, vendor *colorpark.Client, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		authCfg:      authCfg,
		store:        store,
		correlations: correlations,
		vendor:       vendor,
		logger:       logger.Named("admin"),
	}
}

// RegisterRoutes mounts the operator routes on an operator-authenticated
// group.
func (h *AdminHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/history", h.History)
	r.GET("/history/stats", h.HistoryStats)
	r.GET("/correlations/stats", h.CorrelationStats)
	r.GET("/vendor/queue/:deviceID", h.VendorQueue)
	r.POST("/sessions/premium", h.CreatePremiumSession)
}

// History lists recently archived jobs.
func (h *AdminHandler) History(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history is disabled"})
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
			return
		}
		limit = parsed
	}

	entries, err := h.store.Recent(limit)
	if err != nil {
		h.logger.Error("History query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

// HistoryStats reports archive totals, optionally for one device.
func (h *AdminHandler) HistoryStats(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history is disabled"})
		return
	}

	stats, err := h.store.StatsFor(c.Query("device"))
	if err != nil {
		h.logger.Error("History stats failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query history stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// CorrelationStats reports the live correlation table size and oldest entry
// age.
func (h *AdminHandler) CorrelationStats(c *gin.Context) {
	stats := h.correlations.Stats()
	c.JSON(http.StatusOK, gin.H{
		"entries":            stats.Entries,
		"oldest_age_seconds": int64(stats.OldestAge.Seconds()),
	})
}

// VendorQueue passes the vendor's own pending queue through for one device.
func (h *AdminHandler) VendorQueue(c *gin.Context) {
	if h.vendor == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "vendor client is disabled"})
		return
	}

	page := 1
	if raw := c.Query("page"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "page must be a positive integer"})
			return
		}
		page = parsed
	}

	raw, err := h.vendor.MachineWait(c.Request.Context(), c.Param("deviceID"), page, 20)
	if err != nil {
		h.logger.Error("Vendor queue query failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "vendor queue unavailable"})
		return
	}
	c.Data(http.StatusOK, "application/json", raw)
}

// CreatePremiumSession mints a premium session token for front-of-house
// upsells.
func (h *AdminHandler) CreatePremiumSession(c *gin.Context) {
	sessionID := uuid.NewString()
	token, err := middleware.IssueSessionToken(h.authCfg.SessionSecret, sessionID, true, h.authCfg.TokenTTL)
	if err != nil {
		h.logger.Error("Failed to issue premium session token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
		return
	}

	c.JSON(http.StatusCreated, sessionResponse{
		Token:     token,
		SessionID: sessionID,
		ExpiresAt: time.Now().Add(h.authCfg.TokenTTL),
	})
}
