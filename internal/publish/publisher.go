// Package publish owns the single MQTT connection for the agent process and
// serializes every discovery, state, attribute and alert publication.
package publish

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/unraid-agent/internal/alert"
	"github.com/unraid-agent/internal/registry"
	"github.com/unraid-agent/pkg/config"
)

const (
	connectTimeout       = 30 * time.Second
	publishTimeout       = 10 * time.Second
	reconnectMinInterval = 2 * time.Second
	reconnectMaxInterval = 2 * time.Minute
)

// client is the subset of mqtt.Client the publisher uses; narrowed for
// testing with a fake.
type client interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	IsConnectionOpen() bool
	Publish(topic string, qos byte, retained bool, payload any) mqtt.Token
}

// Publisher serializes all broker writes. One per process; shared by every
// (server, scan class) worker.
type Publisher struct {
	cfg     config.MQTTConfig
	servers []string
	log     *zap.Logger

	mu     sync.Mutex
	client client

	// onPublish, when set, observes every publish result (self-metrics).
	onPublish func(kind string, err error)
	// onReconnect fires on every connection established after the first.
	onReconnect func()

	connects atomic.Int64
}

// New builds the publisher and its MQTT client options. Connect must be
// called before use.
func New(cfg config.MQTTConfig, servers []string, log *zap.Logger) *Publisher {
	p := &Publisher{cfg: cfg, servers: servers, log: log}

	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)).
		SetClientID("unraid-agent-"+uuid.NewString()[:8]).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(reconnectMinInterval).
		SetMaxReconnectInterval(reconnectMaxInterval).
		SetOrderMatters(true).
		SetWill(cfg.BaseTopic+"/bridge/availability", "offline", 1, true)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username).SetPassword(cfg.Password)
	}

	opts.SetOnConnectHandler(func(mqtt.Client) {
		// Reconnect re-announces availability only; discovery is not
		// replayed (registry state persists in memory) and state resumes
		// on the next tick.
		log.Info("mqtt connected", zap.String("broker", cfg.Host))
		if p.connects.Add(1) > 1 && p.onReconnect != nil {
			p.onReconnect()
		}
		p.announceAvailability()
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn("mqtt connection lost, reconnecting with backoff", zap.Error(err))
	})

	p.client = mqtt.NewClient(opts)
	return p
}

// SetPublishObserver installs a callback invoked after every publish.
func (p *Publisher) SetPublishObserver(fn func(kind string, err error)) {
	p.onPublish = fn
}

// SetReconnectObserver installs a callback invoked on every reconnect.
func (p *Publisher) SetReconnectObserver(fn func()) {
	p.onReconnect = fn
}

// Connect establishes the broker connection, blocking up to the connect
// timeout.
func (p *Publisher) Connect() error {
	token := p.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("mqtt connect: timeout after %s", connectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

// Close publishes offline availability and disconnects.
func (p *Publisher) Close() {
	for _, server := range p.servers {
		topic := fmt.Sprintf("%s/%s/availability", p.cfg.BaseTopic, registry.Slug(server))
		p.publish("availability", topic, 1, true, "offline")
	}
	p.publish("availability", p.cfg.BaseTopic+"/bridge/availability", 1, true, "offline")
	p.client.Disconnect(500)
}

// announceAvailability marks the bridge and every server online (retained).
func (p *Publisher) announceAvailability() {
	p.publish("availability", p.cfg.BaseTopic+"/bridge/availability", 1, true, "online")
	for _, server := range p.servers {
		topic := fmt.Sprintf("%s/%s/availability", p.cfg.BaseTopic, registry.Slug(server))
		p.publish("availability", topic, 1, true, "online")
	}
}

// publish is the single serialized write path. During an outage the write
// is dropped after the publish timeout: most-recent-value-wins, no queue.
func (p *Publisher) publish(kind, topic string, qos byte, retained bool, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	token := p.client.Publish(topic, qos, retained, payload)
	var err error
	if !token.WaitTimeout(publishTimeout) {
		err = fmt.Errorf("publish %s: timeout", topic)
	} else {
		err = token.Error()
	}

	if p.onPublish != nil {
		p.onPublish(kind, err)
	}
	if err != nil {
		p.log.Warn("publish dropped",
			zap.String("topic", topic),
			zap.String("kind", kind),
			zap.Error(err))
	}
	return err
}

// PublishDiscovery publishes the retained discovery payload (QoS 1).
func (p *Publisher) PublishDiscovery(topics registry.Topics, payload registry.DiscoveryPayload) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.publish("discovery", topics.Discovery, 1, true, b)
}

// PublishState publishes the state value. Retained only for slow-changing
// entities that ask for it.
func (p *Publisher) PublishState(topics registry.Topics, value any, retained bool) error {
	return p.publish("state", topics.State, 0, retained, fmt.Sprintf("%v", value))
}

// PublishAttributes publishes the entity's JSON attributes document.
func (p *Publisher) PublishAttributes(topics registry.Topics, attrs map[string]any) error {
	if len(attrs) == 0 {
		return nil
	}
	b, err := json.Marshal(attrs)
	if err != nil {
		return err
	}
	return p.publish("attributes", topics.Attributes, 0, false, b)
}

// PublishAlert publishes one storage-health alert event.
func (p *Publisher) PublishAlert(ev alert.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	topic := fmt.Sprintf("%s/%s/alert", p.cfg.BaseTopic, registry.Slug(ev.Server))
	return p.publish("alert", topic, 1, false, b)
}

// Connected reports whether the broker connection is currently open.
func (p *Publisher) Connected() bool {
	return p.client.IsConnectionOpen()
}
