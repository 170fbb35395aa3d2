package handlers

import (
	"io"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/orrn/kioskd/internal/notify"
)

// EventsHandler streams hub events to clients over server-sent events.
type EventsHandler struct {
	hub    *notify.Hub
	logger *zap.Logger
}

// NewEventsHandler creates the handler.
func NewEventsHandler(hub *notify.Hub, logger *zap.Logger) *EventsHandler {
	return &EventsHandler{hub: hub, logger: logger.Named("events")}
}

// RegisterRoutes mounts the event stream.
func (h *EventsHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/events", h.Stream)
}

// Stream subscribes the client to the broadcast topic, or to one device's
// topic when ?device= is given, and relays events until the client leaves.
func (h *EventsHandler) Stream(c *gin.Context) {
	topic := notify.BroadcastTopic
	if device := c.Query("device"); device != "" {
		topic = notify.DeviceTopic(device)
	}

	sub := h.hub.Subscribe(topic)
	defer h.hub.Unsubscribe(sub)

	h.logger.Debug("Event stream opened", zap.String("topic", topic), zap.Uint64("subscriber_id", sub.ID))

	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case evt, ok := <-sub.C:
			if !ok {
				return false
			}
			c.SSEvent(evt.Type, evt)
			return true
		}
	})

	h.logger.Debug("Event stream closed", zap.Uint64("subscriber_id", sub.ID))
}
