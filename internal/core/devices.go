package core

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrNoDevices is returned when selection runs against an empty registry.
	ErrNoDevices = errors.New("no devices configured")
	// ErrUnknownDevice is returned when a job names a device the registry
	// does not know.
	ErrUnknownDevice = errors.New("unknown device")
)

// DeviceHealth is the registry's view of a device, derived from vendor
// health events. Devices start out unknown until the first event arrives.
type DeviceHealth string

const (
	DeviceUnknown DeviceHealth = "unknown"
	DeviceOnline  DeviceHealth = "online"
	DeviceOffline DeviceHealth = "offline"
)

// Device is a snapshot of one registered kiosk device.
type Device struct {
	ID           string       `json:"id"`
	Health       DeviceHealth `json:"health"`
	Capabilities []string     `json:"capabilities,omitempty"`
	LastSeenAt   *time.Time   `json:"last_seen_at,omitempty"`
}

// DeviceRegistry tracks the configured devices and hands out targets for
// jobs that do not name one. Selection is a plain round-robin over the
// configured order; the cursor only advances when a selection is made, so
// explicitly addressed jobs do not disturb the rotation.
type DeviceRegistry struct {
	mu      sync.RWMutex
	order   []string
	devices map[string]*Device
	cursor  int

	// skipUnhealthy makes selection pass over devices marked offline. When
	// every device is offline the rotation falls back to plain round-robin
	// rather than refusing the job.
	skipUnhealthy bool

	logger *zap.Logger
}

// NewDeviceRegistry builds a registry from the configured device ids,
// preserving their order for the rotation.
func NewDeviceRegistry(ids []string, skipUnhealthy bool, logger *zap.Logger) *DeviceRegistry {
	devices := make(map[string]*Device, len(ids))
	order := make([]string, 0, len(ids))
	for _, id := range ids {
		devices[id] = &Device{ID: id, Health: DeviceUnknown}
		order = append(order, id)
	}
	return &DeviceRegistry{
		order:         order,
		devices:       devices,
		skipUnhealthy: skipUnhealthy,
		logger:        logger.Named("devices"),
	}
}

// Next returns the next device in the rotation and advances the cursor.
func (r *DeviceRegistry) Next() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.order) == 0 {
		return "", ErrNoDevices
	}

	if r.skipUnhealthy {
		for i := 0; i < len(r.order); i++ {
			id := r.order[r.cursor]
			r.cursor = (r.cursor + 1) % len(r.order)
			if r.devices[id].Health != DeviceOffline {
				return id, nil
			}
		}
		// Every device is offline. Hand out the next one anyway and let the
		// backlog drain once health recovers.
		r.logger.Warn("All devices offline, assigning round-robin regardless")
	}

	id := r.order[r.cursor]
	r.cursor = (r.cursor + 1) % len(r.order)
	return id, nil
}

// Has reports whether the device id is registered.
func (r *DeviceRegistry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.devices[id]
	return ok
}

// SetHealth applies a vendor health event to a registered device. Events for
// unknown devices are ignored; the registry is configured, not discovered.
func (r *DeviceRegistry) SetHealth(id string, healthy bool, capabilities []string, seenAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	dev, ok := r.devices[id]
	if !ok {
		r.logger.Debug("Health event for unregistered device", zap.String("device_id", id))
		return
	}

	prev := dev.Health
	if healthy {
		dev.Health = DeviceOnline
	} else {
		dev.Health = DeviceOffline
	}
	if len(capabilities) > 0 {
		dev.Capabilities = capabilities
	}
	dev.LastSeenAt = &seenAt

	if prev != dev.Health {
		r.logger.Info("Device health changed",
			zap.String("device_id", id),
			zap.String("from", string(prev)),
			zap.String("to", string(dev.Health)))
	}
}

// List returns snapshots of all devices in configured order.
func (r *DeviceRegistry) List() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Device, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.devices[id])
	}
	return out
}
