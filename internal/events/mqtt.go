// Package events fans finished sessions out to an MQTT broker.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"gate-service/internal/domain/access"
)

var ErrNotConnected = errors.New("events: mqtt not connected")

const publishTimeout = 2 * time.Second

type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
	QoS      byte
}

// Publisher publishes every session outcome to <topic>/<phase>.
type Publisher struct {
	client mqtt.Client
	topic  string
	qos    byte
	log    zerolog.Logger

	mu        sync.Mutex
	published uint64
	errors    uint64
}

func NewPublisher(client mqtt.Client, topic string, qos byte, log zerolog.Logger) *Publisher {
	return &Publisher{
		client: client,
		topic:  topic,
		qos:    qos,
		log:    log,
	}
}

// Connect dials the broker with auto-reconnect enabled.
func Connect(ctx context.Context, cfg Config, log zerolog.Logger) (*Publisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		log.Info().Str("broker", cfg.Broker).Str("client_id", cfg.ClientID).Msg("mqtt connection established")
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		log.Warn().Err(err).Str("broker", cfg.Broker).Msg("mqtt connection lost, will auto-reconnect")
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return nil, fmt.Errorf("mqtt connect: %w", ctx.Err())
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}

	return NewPublisher(client, cfg.Topic, cfg.QoS, log), nil
}

// OnOutcome publishes the outcome as JSON. Failures are logged and counted.
func (p *Publisher) OnOutcome(ctx context.Context, outcome access.Outcome) {
	if err := p.publish(outcome); err != nil {
		p.mu.Lock()
		p.errors++
		p.mu.Unlock()
		p.log.Error().Err(err).Str("session_id", outcome.SessionID).Msg("failed to publish access event")
		return
	}
	p.mu.Lock()
	p.published++
	p.mu.Unlock()
}

func (p *Publisher) publish(outcome access.Outcome) error {
	if !p.client.IsConnected() {
		return ErrNotConnected
	}

	payload, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}

	topic := fmt.Sprintf("%s/%s", p.topic, outcome.Phase)
	token := p.client.Publish(topic, p.qos, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}

	p.log.Debug().Str("topic", topic).Int("size", len(payload)).Msg("access event published")
	return nil
}

type Stats struct {
	Published uint64 `json:"published"`
	Errors    uint64 `json:"errors"`
}

func (p *Publisher) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Published: p.published, Errors: p.errors}
}

func (p *Publisher) Close() {
	if p.client.IsConnected() {
		p.client.Disconnect(250)
		p.log.Info().Msg("mqtt disconnected")
	}
}
