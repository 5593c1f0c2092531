package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/benmeehan/presence-engine/internal/models"
	"github.com/benmeehan/presence-engine/internal/services"
	"github.com/benmeehan/presence-engine/pkg/mqtt"
	"github.com/rs/zerolog"
)

const publishTimeout = 5 * time.Second

var (
	_ services.Broadcaster = (*MQTTBroadcaster)(nil)
	_ services.Broadcaster = LogBroadcaster{}
)

// MQTTBroadcaster publishes device feed updates to MQTT topics.
type MQTTBroadcaster struct {
	TopicPrefix string
	QOS         int
	MqttClient  mqtt.MQTTClient
	Logger      zerolog.Logger
}

// NewMQTTBroadcaster initializes a new MQTTBroadcaster.
func NewMQTTBroadcaster(topicPrefix string, qos int, mqttClient mqtt.MQTTClient, logger zerolog.Logger) *MQTTBroadcaster {
	return &MQTTBroadcaster{
		TopicPrefix: topicPrefix,
		QOS:         qos,
		MqttClient:  mqttClient,
		Logger:      logger,
	}
}

// DeviceTopic is the feed of a single device.
func (b *MQTTBroadcaster) DeviceTopic(deviceID string) string {
	return b.TopicPrefix + "/devices/" + deviceID
}

// AllTopic is the feed every subscriber receives.
func (b *MQTTBroadcaster) AllTopic() string {
	return b.TopicPrefix + "/devices"
}

func (b *MQTTBroadcaster) BroadcastToDevice(ctx context.Context, deviceID, event string, entry *models.HistoryEntry) error {
	return b.publish(ctx, b.DeviceTopic(deviceID), event, entry)
}

func (b *MQTTBroadcaster) BroadcastToAll(ctx context.Context, event string, entry *models.HistoryEntry) error {
	return b.publish(ctx, b.AllTopic(), event, entry)
}

func (b *MQTTBroadcaster) publish(ctx context.Context, topic, event string, entry *models.HistoryEntry) error {
	payload, err := json.Marshal(models.Broadcast{Event: event, Entry: entry})
	if err != nil {
		return fmt.Errorf("failed to marshal broadcast: %w", err)
	}

	token := b.MqttClient.Publish(topic, byte(b.QOS), false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(publishTimeout):
		return fmt.Errorf("publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	b.Logger.Debug().Str("topic", topic).Str("event", event).Msg("Broadcast published")
	return nil
}

// LogBroadcaster only logs device feed updates. It is used when MQTT is disabled.
type LogBroadcaster struct {
	Logger zerolog.Logger
}

func (b LogBroadcaster) BroadcastToDevice(_ context.Context, deviceID, event string, entry *models.HistoryEntry) error {
	b.Logger.Debug().Str("device_id", deviceID).Str("event", event).Bool("online", entry != nil && entry.IsOnline).Msg("Device broadcast")
	return nil
}

func (b LogBroadcaster) BroadcastToAll(_ context.Context, event string, entry *models.HistoryEntry) error {
	b.Logger.Debug().Str("event", event).Bool("online", entry != nil && entry.IsOnline).Msg("Broadcast to all subscribers")
	return nil
}
