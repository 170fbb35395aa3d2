package core

import (
	"time"

	"go.uber.org/zap"

	"github.com/orrn/kioskd/internal/metrics"
)

// StatusBridge translates vendor realtime events into internal terms. Order
// events arrive keyed by vendor order ids and must be resolved through the
// correlation table before anyone downstream can use them; device health
// events pass through and update the registry on the way.
type StatusBridge struct {
	correlations *CorrelationTable
	devices      *DeviceRegistry
	notifier     Notifier

	logger *zap.Logger
	now    func() time.Time
}

// NewStatusBridge wires the bridge to its lookup table, the device registry
// and the notification sink.
func NewStatusBridge(correlations *CorrelationTable, devices *DeviceRegistry, notifier Notifier, logger *zap.Logger) *StatusBridge {
	return &StatusBridge{
		correlations: correlations,
		devices:      devices,
		notifier:     notifier,
		logger:       logger.Named("bridge"),
		now:          time.Now,
	}
}

// HandleOrderStatus resolves the vendor order id and republishes the event
// under our job id. Events that do not resolve are dropped with a
// diagnostic; an expired or never-registered correlation is an expected
// condition, not a failure.
func (b *StatusBridge) HandleOrderStatus(evt OrderStatusEvent) {
	jobID, ok := b.correlations.JobFor(evt.VendorOrderID)
	if !ok {
		b.logger.Debug("Dropping order status with no correlation",
			zap.String("vendor_order_id", evt.VendorOrderID),
			zap.String("status", evt.Status))
		metrics.BridgeEventsTotal.WithLabelValues("order_status", "dropped").Inc()
		return
	}

	deviceID, _ := b.correlations.DeviceFor(jobID)
	b.notifier.NotifyJob(JobEvent{
		JobID:    jobID,
		DeviceID: deviceID,
		Status:   evt.Status,
	})
	metrics.BridgeEventsTotal.WithLabelValues("order_status", "published").Inc()
}

// HandleDeviceHealth updates the registry and republishes the health change.
// The notifier fans it out both as a broadcast and addressed to the device's
// own subscribers. Unregistered devices still get republished; the registry
// just will not track them.
func (b *StatusBridge) HandleDeviceHealth(evt DeviceHealthEvent) {
	b.devices.SetHealth(evt.DeviceID, evt.Healthy, evt.Capabilities, b.now())
	b.notifier.NotifyDevice(DeviceEvent{
		DeviceID: evt.DeviceID,
		Healthy:  evt.Healthy,
	})
	metrics.BridgeEventsTotal.WithLabelValues("device_health", "published").Inc()
}
