package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/orrn/kioskd/internal/api/middleware"
	"github.com/orrn/kioskd/internal/core"
)

// JobsHandler serves submission, status, cancellation and queue counts.
type JobsHandler struct {
	service *core.Service
	logger  *zap.Logger
}

// NewJobsHandler creates the handler.
func NewJobsHandler(service *core.Service, logger *zap.Logger) *JobsHandler {
	return &JobsHandler{service: service, logger: logger.Named("jobs")}
}

// RegisterRoutes mounts the job routes on a session-authenticated group.
func (h *JobsHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/jobs", h.Submit)
	r.GET("/jobs/:id", h.Get)
	r.DELETE("/jobs/:id", h.Cancel)
	r.GET("/queue", h.QueueCounts)
}

type submitRequest struct {
	// DeviceID pins the job to one device; empty means round-robin.
	DeviceID string `json:"device_id"`
	// Artwork is carried opaque to the queue and only interpreted by the
	// vendor client at dispatch time.
	Artwork json.RawMessage `json:"artwork" binding:"required"`
}

// Submit admits a print job and answers immediately with id and position.
func (h *JobsHandler) Submit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	result, err := h.service.Submit(core.SubmitRequest{
		SessionID: middleware.SessionID(c),
		DeviceID:  req.DeviceID,
		Payload:   []byte(req.Artwork),
		Premium:   middleware.IsPremium(c),
	})
	if err != nil {
		switch {
		case errors.Is(err, core.ErrDuplicateSubmission):
			c.JSON(http.StatusConflict, gin.H{"error": "duplicate submission"})
		case errors.Is(err, core.ErrEmptyPayload):
			c.JSON(http.StatusBadRequest, gin.H{"error": "artwork is required"})
		case errors.Is(err, core.ErrUnknownDevice):
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown device"})
		case errors.Is(err, core.ErrNoDevices):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no devices available"})
		default:
			h.logger.Error("Submit failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to submit job"})
		}
		return
	}

	c.JSON(http.StatusCreated, result)
}

type jobResponse struct {
	*core.Job
	Position int `json:"position,omitempty"`
}

// Get returns the current job snapshot. Terminal jobs answer until the purge
// grace expires, then this is a 404.
func (h *JobsHandler) Get(c *gin.Context) {
	job, position, err := h.service.Job(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, jobResponse{Job: job, Position: position})
}

// Cancel removes a waiting job for the session that submitted it.
func (h *JobsHandler) Cancel(c *gin.Context) {
	err := h.service.Cancel(c.Param("id"), middleware.SessionID(c))
	if err != nil {
		switch {
		case errors.Is(err, core.ErrJobNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		case errors.Is(err, core.ErrNotOwner):
			c.JSON(http.StatusForbidden, gin.H{"error": "job belongs to a different session"})
		case errors.Is(err, core.ErrNotCancellable):
			c.JSON(http.StatusConflict, gin.H{"error": "job is no longer waiting"})
		default:
			h.logger.Error("Cancel failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel job"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

// QueueCounts reports waiting and processing totals, overall and per device.
func (h *JobsHandler) QueueCounts(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.Counts())
}
