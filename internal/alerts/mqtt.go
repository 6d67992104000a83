// Package alerts publishes anomaly alerts to an MQTT broker.
package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"rental-ml-api/pkg/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "rental/anomalies"

// Publisher sends anomaly alerts somewhere.
type Publisher interface {
	Publish(ctx context.Context, anomalies []models.AnomalyRecord) error
	Close()
}

// Config holds MQTT connection settings.
type Config struct {
	Broker      string
	TopicPrefix string
	Username    string
	Password    string
	ClientID    string
}

// Alert is the JSON payload published per anomaly.
type Alert struct {
	models.AnomalyRecord
	DetectedAt string `json:"detected_at"`
}

// MQTTPublisher publishes one retained-less message per anomaly.
type MQTTPublisher struct {
	client      mqtt.Client
	topicPrefix string
	timeout     time.Duration
}

// NewMQTTPublisher connects to the broker.
func NewMQTTPublisher(cfg Config) (*MQTTPublisher, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("MQTT broker address is required")
	}

	broker := cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "rental-ml-api"
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connecting to MQTT broker: %w", token.Error())
	}
	return NewMQTTPublisherWithClient(client, cfg.TopicPrefix), nil
}

// NewMQTTPublisherWithClient wraps an already connected client.
func NewMQTTPublisherWithClient(client mqtt.Client, topicPrefix string) *MQTTPublisher {
	if topicPrefix == "" {
		topicPrefix = DefaultTopicPrefix
	}
	return &MQTTPublisher{
		client:      client,
		topicPrefix: strings.TrimSuffix(topicPrefix, "/"),
		timeout:     5 * time.Second,
	}
}

// Topic returns the topic for one equipment item.
func (p *MQTTPublisher) Topic(a models.AnomalyRecord) string {
	return fmt.Sprintf("%s/%s/%s", p.topicPrefix, a.Severity, a.EquipmentID)
}

// Publish sends each anomaly at QoS 1 and stops at the first failure.
func (p *MQTTPublisher) Publish(ctx context.Context, anomalies []models.AnomalyRecord) error {
	now := time.Now().UTC().Format(time.RFC3339)
	for _, a := range anomalies {
		if err := ctx.Err(); err != nil {
			return err
		}
		body, err := json.Marshal(Alert{AnomalyRecord: a, DetectedAt: now})
		if err != nil {
			return fmt.Errorf("encoding alert: %w", err)
		}
		token := p.client.Publish(p.Topic(a), 1, false, body)
		if !token.WaitTimeout(p.timeout) {
			return fmt.Errorf("publishing alert for %s: timed out", a.EquipmentID)
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("publishing alert for %s: %w", a.EquipmentID, err)
		}
	}
	return nil
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}

// NoopPublisher drops every alert.
type NoopPublisher struct{}

// Publish does nothing.
func (NoopPublisher) Publish(context.Context, []models.AnomalyRecord) error { return nil }

// Close does nothing.
func (NoopPublisher) Close() {}
