package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/orrn/kioskd/internal/core"
)

// VendorHandler is the ingress for the vendor's realtime callbacks. It is
// meant to face the vendor relay on the private interface; events it cannot
// attribute are dropped downstream, never erred back.
type VendorHandler struct {
	bridge *core.StatusBridge
	logger *zap.Logger
}

// NewVendorHandler creates the handler.
func NewVendorHandler(bridge *core.StatusBridge, logger *zap.Logger) *VendorHandler {
	return &VendorHandler{bridge: bridge, logger: logger.Named("vendor")}
}

// RegisterRoutes mounts the callback routes.
func (h *VendorHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/vendor/events/order-status", h.OrderStatus)
	r.POST("/vendor/events/device-health", h.DeviceHealth)
}

// OrderStatus accepts an order status event keyed by the vendor's order id.
func (h *VendorHandler) OrderStatus(c *gin.Context) {
	var evt core.OrderStatusEvent
	if err := c.ShouldBindJSON(&evt); err != nil || evt.VendorOrderID == "" || evt.Status == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "vendor_order_id and status are required"})
		return
	}

	h.bridge.HandleOrderStatus(evt)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// DeviceHealth accepts a device health event.
func (h *VendorHandler) DeviceHealth(c *gin.Context) {
	var evt core.DeviceHealthEvent
	if err := c.ShouldBindJSON(&evt); err != nil || evt.DeviceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "device_id is required"})
		return
	}

	h.bridge.HandleDeviceHealth(evt)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}
