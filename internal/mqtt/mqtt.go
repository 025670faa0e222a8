package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/daemonp/zoneguard/internal/config"
	"github.com/daemonp/zoneguard/internal/log"
	"github.com/daemonp/zoneguard/internal/outbox"
)

const publishTimeout = 5 * time.Second

var (
	onlinePayload  = map[string]string{"reason": "online"}
	offlinePayload = map[string]string{"reason": "offline"}
)

var ErrNotConnected = errors.New("mqtt not connected")

// MQTT is the broker transport for the outbox. It publishes each record kind
// to its own topic and feeds payloads from the command topic back in.
type MQTT struct {
	config *config.MQTTConfig
	log    *log.Logger
	client mqtt.Client
	topics *Topics

	mu        sync.Mutex
	onCommand outbox.CommandHandler
	onConnect []func()
}

func NewMQTT(cfg *config.MQTTConfig, logger *log.Logger) *MQTT {
	if logger == nil {
		logger = log.Nop()
	}
	return &MQTT{
		config: cfg,
		log:    logger,
		topics: NewTopics(cfg.Prefix),
	}
}

func (m *MQTT) GetPrefix() string {
	return m.config.Prefix
}

func (m *MQTT) Topics() *Topics {
	return m.topics
}

// OnConnect registers fn to run after every (re)connect, once subscriptions are in place.
func (m *MQTT) OnConnect(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onConnect = append(m.onConnect, fn)
}

func (m *MQTT) Connect(ctx context.Context, onCommand outbox.CommandHandler) error {
	m.mu.Lock()
	m.onCommand = onCommand
	m.mu.Unlock()

	if m.client == nil {
		host, port := m.config.Host, m.config.Port
		if strings.Contains(host, "://") {
			host, port = ParseURL(host)
		}

		opts := mqtt.NewClientOptions()
		opts.AddBroker(fmt.Sprintf("tcp://%s:%d", host, port))
		opts.SetClientID(m.config.ClientID)
		opts.SetUsername(m.config.Username)
		opts.SetPassword(m.config.Password)
		opts.SetCleanSession(m.config.Clean)
		opts.SetKeepAlive(time.Duration(m.config.Keepalive) * time.Second)
		opts.SetAutoReconnect(true)
		opts.SetOnConnectHandler(m.handleConnect)
		opts.SetConnectionLostHandler(m.onDisconnect)

		will, _ := json.Marshal(offlinePayload)
		opts.SetBinaryWill(m.topics.Status(), will, byte(m.config.QOS), m.config.Retain)

		m.client = mqtt.NewClient(opts)
	}

	token := m.client.Connect()
	if err := waitToken(ctx, token); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}

	m.log.Info("Connected to MQTT broker: %s:%d", m.config.Host, m.config.Port)
	return nil
}

func (m *MQTT) Connected() bool {
	return m.client != nil && m.client.IsConnectionOpen()
}

func (m *MQTT) handleConnect(client mqtt.Client) {
	m.log.Info("MQTT connection established")
	if err := m.PublishJSON(m.topics.Status(), onlinePayload, m.config.Retain); err != nil {
		m.log.Warn("Failed to publish online status: %v", err)
	}

	token := client.Subscribe(m.topics.Command(), byte(m.config.QOS), m.handleMessage)
	if token.Wait() && token.Error() != nil {
		m.log.Error("Failed to subscribe to topic %s: %v", m.topics.Command(), token.Error())
	} else {
		m.log.Debug("Subscribed to topic: %s", m.topics.Command())
	}

	m.mu.Lock()
	hooks := append([]func(){}, m.onConnect...)
	m.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

func (m *MQTT) onDisconnect(client mqtt.Client, err error) {
	m.log.Error("MQTT connection lost: %v", err)
}

func (m *MQTT) handleMessage(client mqtt.Client, msg mqtt.Message) {
	payload := string(msg.Payload())
	m.log.Debug("Received message on topic %s", msg.Topic())

	if msg.Topic() != m.topics.Command() {
		m.log.Warning("Received message on unknown topic: %s", msg.Topic())
		return
	}
	m.mu.Lock()
	handler := m.onCommand
	m.mu.Unlock()
	if handler != nil {
		handler(payload)
	}
}

// Publish sends one outbox record. Status records follow the retain setting;
// everything else is transient.
func (m *MQTT) Publish(ctx context.Context, r outbox.Record) error {
	if !m.Connected() {
		return ErrNotConnected
	}
	topic, err := m.topics.ForKind(r.Kind)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal %s record: %w", r.Kind, err)
	}
	retain := r.Kind == outbox.KindStatus && m.config.Retain

	token := m.client.Publish(topic, byte(m.config.QOS), retain, payload)
	if err := waitToken(ctx, token); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	m.log.Trace("Published %s record %s to %s", r.Kind, r.ID, topic)
	return nil
}

// PublishJSON marshals payload and publishes it outside the outbox path.
func (m *MQTT) PublishJSON(topic string, payload interface{}, retain bool) error {
	if m.client == nil {
		return ErrNotConnected
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal message for topic %s: %w", topic, err)
	}
	token := m.client.Publish(topic, byte(m.config.QOS), retain, data)
	if token.WaitTimeout(publishTimeout) && token.Error() != nil {
		return token.Error()
	}
	return nil
}

func (m *MQTT) Close() error {
	if m.client != nil && m.client.IsConnected() {
		if err := m.PublishJSON(m.topics.Status(), offlinePayload, m.config.Retain); err != nil {
			m.log.Warn("Failed to publish offline status: %v", err)
		}
		m.client.Disconnect(250)
	}
	return nil
}

func waitToken(ctx context.Context, token mqtt.Token) error {
	timer := time.NewTimer(publishTimeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return errors.New("timed out waiting for broker")
	}
}
