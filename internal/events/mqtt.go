package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/ukydev/hems-dispatch/internal/models"
)

// MQTTConfig configures the broker connection.
type MQTTConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
}

// MQTTPublisher publishes events and tracking snapshots as JSON under
// <prefix>/missions/<mission_id>/{events,tracking}.
type MQTTPublisher struct {
	client mqtt.Client
	prefix string
	qos    byte
}

// DialMQTT connects to the broker. Reconnects are left to paho.
func DialMQTT(cfg MQTTConfig, timeout time.Duration) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(timeout)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		return nil, fmt.Errorf("mqtt connect to %s timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return NewMQTTPublisher(client, cfg.TopicPrefix, cfg.QoS), nil
}

// NewMQTTPublisher wraps an existing client.
func NewMQTTPublisher(client mqtt.Client, prefix string, qos byte) *MQTTPublisher {
	if prefix == "" {
		prefix = "hems"
	}
	return &MQTTPublisher{client: client, prefix: strings.TrimSuffix(prefix, "/"), qos: qos}
}

// EventTopic is the topic events of a mission are published on.
func (p *MQTTPublisher) EventTopic(missionID string) string {
	return fmt.Sprintf("%s/missions/%s/events", p.prefix, missionID)
}

// TrackingTopic is the topic snapshots of a mission are published on.
func (p *MQTTPublisher) TrackingTopic(missionID string) string {
	return fmt.Sprintf("%s/missions/%s/tracking", p.prefix, missionID)
}

// PublishEvent implements Sink.
func (p *MQTTPublisher) PublishEvent(ctx context.Context, e Event) error {
	return p.publish(ctx, p.EventTopic(e.MissionID), false, e)
}

// PublishSnapshot publishes the latest tracking state, retained so late
// subscribers get the current position at once.
func (p *MQTTPublisher) PublishSnapshot(ctx context.Context, s models.TrackingSnapshot) error {
	return p.publish(ctx, p.TrackingTopic(s.MissionID), true, s)
}

func (p *MQTTPublisher) publish(ctx context.Context, topic string, retained bool, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	token := p.client.Publish(topic, p.qos, retained, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}
