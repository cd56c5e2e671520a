package publish

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/unraid-agent/internal/alert"
	"github.com/unraid-agent/internal/registry"
	"github.com/unraid-agent/pkg/config"
)

type fakeToken struct{ err error }

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *fakeToken) Error() error { return t.err }

type publishedMsg struct {
	topic    string
	qos      byte
	retained bool
	payload  string
}

type fakeClient struct {
	mu       sync.Mutex
	open     bool
	messages []publishedMsg
	failWith error
}

func (c *fakeClient) Connect() mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = true
	return &fakeToken{}
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
}

func (c *fakeClient) IsConnectionOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload any) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	var body string
	switch v := payload.(type) {
	case []byte:
		body = string(v)
	case string:
		body = v
	}
	c.messages = append(c.messages, publishedMsg{topic, qos, retained, body})
	return &fakeToken{err: c.failWith}
}

func (c *fakeClient) topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.messages))
	for i, m := range c.messages {
		out[i] = m.topic
	}
	return out
}

func testPublisher(servers ...string) (*Publisher, *fakeClient) {
	cfg := config.MQTTConfig{Host: "localhost", Port: 1883, BaseTopic: "unraid", DiscoveryPrefix: "homeassistant"}
	p := New(cfg, servers, zap.NewNop())
	fc := &fakeClient{open: true}
	p.client = fc
	return p, fc
}

func testEntityTopics() (registry.Entity, registry.Topics) {
	e := registry.Entity{Server: "tower", Component: registry.ComponentSensor, Suffix: "array_usage", Name: "Array Usage", Unit: "%"}
	return e, registry.TopicsFor(e, "homeassistant", "unraid")
}

func TestPublishDiscoveryRetainedQoS1(t *testing.T) {
	p, fc := testPublisher("tower")
	e, topics := testEntityTopics()

	require.NoError(t, p.PublishDiscovery(topics, registry.BuildDiscovery(e, topics)))

	require.Len(t, fc.messages, 1)
	msg := fc.messages[0]
	assert.Equal(t, "homeassistant/sensor/tower/array_usage/config", msg.topic)
	assert.Equal(t, byte(1), msg.qos)
	assert.True(t, msg.retained)

	var payload registry.DiscoveryPayload
	require.NoError(t, json.Unmarshal([]byte(msg.payload), &payload))
	assert.Equal(t, "tower_array_usage", payload.UniqueID)
	assert.Equal(t, "unraid/tower/array_usage/state", payload.StateTopic)
}

func TestPublishStateNotRetained(t *testing.T) {
	p, fc := testPublisher("tower")
	_, topics := testEntityTopics()

	require.NoError(t, p.PublishState(topics, 42.5, false))

	require.Len(t, fc.messages, 1)
	msg := fc.messages[0]
	assert.Equal(t, "unraid/tower/array_usage/state", msg.topic)
	assert.Equal(t, byte(0), msg.qos)
	assert.False(t, msg.retained)
	assert.Equal(t, "42.5", msg.payload)
}

func TestPublishAttributesSkipsEmpty(t *testing.T) {
	p, fc := testPublisher("tower")
	_, topics := testEntityTopics()

	require.NoError(t, p.PublishAttributes(topics, nil))
	assert.Empty(t, fc.messages)

	require.NoError(t, p.PublishAttributes(topics, map[string]any{"total_tb": 10.91}))
	require.Len(t, fc.messages, 1)
	assert.Equal(t, "unraid/tower/array_usage/attributes", fc.messages[0].topic)
}

func TestPublishAlert(t *testing.T) {
	p, fc := testPublisher("tower")

	ev := alert.Event{Server: "tower", EntityID: "tower_disk_wd1234", Disk: "disk1",
		Attribute: "reallocated_sectors", Severity: alert.SeverityCritical, Previous: 0, Current: 5}
	require.NoError(t, p.PublishAlert(ev))

	require.Len(t, fc.messages, 1)
	assert.Equal(t, "unraid/tower/alert", fc.messages[0].topic)

	var got alert.Event
	require.NoError(t, json.Unmarshal([]byte(fc.messages[0].payload), &got))
	assert.Equal(t, "reallocated_sectors", got.Attribute)
	assert.EqualValues(t, 5, got.Current)
}

func TestCloseAnnouncesOffline(t *testing.T) {
	p, fc := testPublisher("tower", "backup")
	p.Close()

	topics := fc.topics()
	assert.Contains(t, topics, "unraid/tower/availability")
	assert.Contains(t, topics, "unraid/backup/availability")
	assert.Contains(t, topics, "unraid/bridge/availability")
	assert.False(t, fc.IsConnectionOpen())
}

func TestPublishObserverSeesFailures(t *testing.T) {
	p, fc := testPublisher("tower")
	fc.failWith = assert.AnError

	var kinds []string
	var errs []error
	p.SetPublishObserver(func(kind string, err error) {
		kinds = append(kinds, kind)
		errs = append(errs, err)
	})

	_, topics := testEntityTopics()
	err := p.PublishState(topics, 1, false)
	assert.Error(t, err)
	require.Len(t, kinds, 1)
	assert.Equal(t, "state", kinds[0])
	assert.Error(t, errs[0])
}
