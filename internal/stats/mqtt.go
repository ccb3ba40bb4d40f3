package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// MQTTConfig configures the optional stats publisher.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
}

// Publisher publishes periodic JSON status snapshots to an MQTT broker,
// grounded on the teacher's internal/mqtt/client.go: connect-with-retry,
// auto-reconnect via paho's own backoff, and a topic payload rather than
// birdnet-go's detection-event payload.
type Publisher struct {
	config MQTTConfig

	mu     sync.Mutex
	client mqtt.Client
}

// NewPublisher returns an unconnected Publisher; Connect must be called
// before Publish, which fails while not connected. If config.ClientID
// is blank, a random one is generated: two receivers sharing a broker
// and a fixed ID would otherwise repeatedly kick each other off the
// connection.
func NewPublisher(config MQTTConfig) *Publisher {
	if config.ClientID == "" {
		config.ClientID = "wavesync-" + uuid.NewString()
	}
	return &Publisher{config: config}
}

// Connect dials the broker, matching client.Connect's resolve-then-dial
// shape but without the one-minute retry throttle (stats publishing
// tolerates a slower first attempt; Run's caller only calls Connect
// once at startup).
func (p *Publisher) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := url.Parse(p.config.Broker); err != nil {
		return fmt.Errorf("invalid mqtt broker url: %w", err)
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(p.config.Broker)
	opts.SetClientID(p.config.ClientID)
	opts.SetUsername(p.config.Username)
	opts.SetPassword(p.config.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)

	p.client = mqtt.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("mqtt connect timeout")
	}
	return token.Error()
}

// Publish sends snap as JSON to the configured topic. A nil Publisher
// (stats publishing disabled) makes this a no-op.
func (p *Publisher) Publish(snap Snapshot) error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()

	if client == nil || !client.IsConnected() {
		return fmt.Errorf("not connected to mqtt broker")
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}

	token := client.Publish(p.config.Topic, 0, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("mqtt publish timeout")
	}
	return token.Error()
}

// Disconnect closes the MQTT connection.
func (p *Publisher) Disconnect() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}
