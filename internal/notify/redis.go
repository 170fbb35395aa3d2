package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/orrn/kioskd/internal/core"
)

// publishTimeout bounds one Redis publish.
const publishTimeout = 5 * time.Second

// RedisPublisher mirrors hub events onto Redis pub/sub channels so other
// processes (signage controllers, dashboards) can follow the same stream.
// Publish failures are logged and dropped; Redis being down must never slow
// the queue.
type RedisPublisher struct {
	client *redis.Client
	prefix string

	logger *zap.Logger
	now    func() time.Time
}

// NewRedisPublisher wires a publisher onto an existing client. The prefix
// namespaces the channels, e.g. "kioskd:broadcast".
func NewRedisPublisher(client *redis.Client, prefix string, logger *zap.Logger) *RedisPublisher {
	return &RedisPublisher{
		client: client,
		prefix: prefix,
		logger: logger.Named("redis"),
		now:    time.Now,
	}
}

// NotifyJob publishes a job status change.
func (p *RedisPublisher) NotifyJob(evt core.JobEvent) {
	p.publish(EventJobStatus, evt.DeviceID, evt)
}

// NotifyDevice publishes a device health change.
func (p *RedisPublisher) NotifyDevice(evt core.DeviceEvent) {
	p.publish(EventDeviceHealth, evt.DeviceID, evt)
}

func (p *RedisPublisher) publish(eventType, deviceID string, payload interface{}) {
	evt := Event{Type: eventType, DeviceID: deviceID, Timestamp: p.now(), Payload: payload}
	body, err := json.Marshal(evt)
	if err != nil {
		p.logger.Error("Failed to marshal event", zap.String("type", eventType), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	channels := []string{p.prefix + ":" + BroadcastTopic}
	if deviceID != "" {
		channels = append(channels, p.prefix+":"+DeviceTopic(deviceID))
	}
	for _, channel := range channels {
		if err := p.client.Publish(ctx, channel, body).Err(); err != nil {
			p.logger.Warn("Redis publish failed",
				zap.String("channel", channel),
				zap.String("type", eventType),
				zap.Error(err))
		}
	}
}

// Multi fans notifications out to several sinks in order.
type Multi []core.Notifier

func (m Multi) NotifyJob(evt core.JobEvent) {
	for _, n := range m {
		n.NotifyJob(evt)
	}
}

func (m Multi) NotifyDevice(evt core.DeviceEvent) {
	for _, n := range m {
		n.NotifyDevice(evt)
	}
}
