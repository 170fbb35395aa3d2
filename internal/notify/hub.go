package notify

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/orrn/kioskd/internal/core"
)

const (
	// EventJobStatus is a change in a job's lifecycle, ours or relayed from
	// the vendor.
	EventJobStatus = "job_status"
	// EventDeviceHealth is a device going online or offline.
	EventDeviceHealth = "device_health"
)

// BroadcastTopic receives every event once.
const BroadcastTopic = "broadcast"

// DeviceTopic names the addressed topic for one device's subscribers.
func DeviceTopic(deviceID string) string {
	return "device:" + deviceID
}

// subscriberBuffer is each subscriber's channel depth. A subscriber that
// stops draining loses events rather than stalling the publisher.
const subscriberBuffer = 16

// Event is the envelope delivered to subscribers.
type Event struct {
	Type      string      `json:"type"`
	DeviceID  string      `json:"device_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// Subscription is one live listener on a topic. Read from C until it closes.
type Subscription struct {
	ID    uint64
	Topic string
	C     <-chan Event

	ch chan Event
}

// Hub is the in-process event fan-out. Job and device events are published
// once on the broadcast topic and once on the owning device's topic, so a
// kiosk screen can follow just its own device while dashboards follow
// everything.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]*Subscription
	nextID uint64

	logger *zap.Logger
	now    func() time.Time
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		subs:   make(map[string]map[uint64]*Subscription),
		logger: logger.Named("notify"),
		now:    time.Now,
	}
}

// Subscribe registers a listener on the topic.
func (h *Hub) Subscribe(topic string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	ch := make(chan Event, subscriberBuffer)
	sub := &Subscription{ID: h.nextID, Topic: topic, C: ch, ch: ch}

	if h.subs[topic] == nil {
		h.subs[topic] = make(map[uint64]*Subscription)
	}
	h.subs[topic][sub.ID] = sub
	return sub
}

// Unsubscribe removes the listener and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	topic, ok := h.subs[sub.Topic]
	if !ok {
		return
	}
	if _, ok := topic[sub.ID]; !ok {
		return
	}
	delete(topic, sub.ID)
	if len(topic) == 0 {
		delete(h.subs, sub.Topic)
	}
	close(sub.ch)
}

// Publish delivers the event to every subscriber of the topic. Full
// subscriber buffers drop the event.
func (h *Hub) Publish(topic string, evt Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs[topic] {
		select {
		case sub.ch <- evt:
		default:
			h.logger.Warn("Subscriber lagging, dropping event",
				zap.Uint64("subscriber_id", sub.ID),
				zap.String("topic", topic),
				zap.String("type", evt.Type))
		}
	}
}

// NotifyJob publishes a job status change, broadcast plus device-addressed.
func (h *Hub) NotifyJob(evt core.JobEvent) {
	e := Event{Type: EventJobStatus, DeviceID: evt.DeviceID, Timestamp: h.now(), Payload: evt}
	h.Publish(BroadcastTopic, e)
	if evt.DeviceID != "" {
		h.Publish(DeviceTopic(evt.DeviceID), e)
	}
}

// NotifyDevice publishes a device health change, broadcast plus
// device-addressed.
func (h *Hub) NotifyDevice(evt core.DeviceEvent) {
	e := Event{Type: EventDeviceHealth, DeviceID: evt.DeviceID, Timestamp: h.now(), Payload: evt}
	h.Publish(BroadcastTopic, e)
	h.Publish(DeviceTopic(evt.DeviceID), e)
}

// SubscriberCount reports the live subscriber total across topics.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, topic := range h.subs {
		n += len(topic)
	}
	return n
}
