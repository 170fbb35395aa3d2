package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/orrn/kioskd/internal/core"
)

// DevicesHandler serves the device roster.
type DevicesHandler struct {
	service *core.Service
	logger  *zap.Logger
}

// NewDevicesHandler creates the handler.
func NewDevicesHandler(service *core.Service, logger *zap.Logger) *DevicesHandler {
	return &DevicesHandler{service: service, logger: logger.Named("devices")}
}

// RegisterRoutes mounts the device routes.
func (h *DevicesHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/devices", h.List)
}

// List returns every configured device with health and waiting backlog.
func (h *DevicesHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"devices": h.service.Devices()})
}
