package core

import "context"

// Submitter is the vendor submission boundary. Authentication, signing and
// transport belong to the implementation; the core only sees the returned
// vendor order id or an error.
type Submitter interface {
	Submit(ctx context.Context, deviceID string, payload []byte) (string, error)
}

// Notifier delivers normalized events to connected subscribers. Delivery
// mechanics (push channel, poll, fan-out) are the implementation's concern.
type Notifier interface {
	NotifyJob(evt JobEvent)
	NotifyDevice(evt DeviceEvent)
}

// JobRecorder archives terminal jobs for reporting. It is never read back
// into the queue.
type JobRecorder interface {
	RecordJob(job *Job) error
}

// JobEvent is the normalized job status event published to subscribers.
type JobEvent struct {
	JobID    string `json:"job_id"`
	DeviceID string `json:"device_id,omitempty"`
	Status   string `json:"status"`
}

// DeviceEvent is the normalized device health event published to subscribers.
type DeviceEvent struct {
	DeviceID string `json:"device_id"`
	Healthy  bool   `json:"healthy"`
}

// OrderStatusEvent is the vendor realtime event for an order, keyed by the
// vendor's own order id.
type OrderStatusEvent struct {
	VendorOrderID string `json:"vendor_order_id"`
	Status        string `json:"status"`
}

// DeviceHealthEvent is the vendor realtime event for device health.
type DeviceHealthEvent struct {
	DeviceID     string   `json:"device_id"`
	Healthy      bool     `json:"healthy"`
	Capabilities []string `json:"capabilities"`
}
