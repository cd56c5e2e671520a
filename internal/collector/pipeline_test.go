package collector

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/unraid-agent/internal/alert"
	"github.com/unraid-agent/internal/registry"
	"github.com/unraid-agent/internal/state"
)

// fakePublisher records every publish for assertions.
type fakePublisher struct {
	mu          sync.Mutex
	discoveries []registry.DiscoveryPayload
	states      []statePublish
	attrs       []map[string]any
	alerts      []alert.Event
}

type statePublish struct {
	topic    string
	value    any
	retained bool
}

func (f *fakePublisher) PublishDiscovery(_ registry.Topics, payload registry.DiscoveryPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discoveries = append(f.discoveries, payload)
	return nil
}

func (f *fakePublisher) PublishState(topics registry.Topics, value any, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, statePublish{topic: topics.State, value: value, retained: retained})
	return nil
}

func (f *fakePublisher) PublishAttributes(_ registry.Topics, attrs map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(attrs) > 0 {
		f.attrs = append(f.attrs, attrs)
	}
	return nil
}

func (f *fakePublisher) PublishAlert(ev alert.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, ev)
	return nil
}

func testPipeline(pub Publisher) *Pipeline {
	return NewPipeline(state.NewStore(), registry.New(), pub, nil, "homeassistant", "unraid", zap.NewNop())
}

func TestEmitPublishesDiscoveryOnce(t *testing.T) {
	pub := &fakePublisher{}
	pipe := testPipeline(pub)

	u := Update{
		Entity: registry.Entity{
			Server:    "tower",
			Component: registry.ComponentSensor,
			Suffix:    "array_state",
			Name:      "Array State",
		},
		State: "STARTED",
	}

	require.NoError(t, pipe.Emit(u))
	require.NoError(t, pipe.Emit(u))
	require.NoError(t, pipe.Emit(u))

	assert.Len(t, pub.discoveries, 1, "identical schema must not re-publish discovery")
	assert.Len(t, pub.states, 3, "state goes out on every tick")
	assert.Equal(t, "unraid/tower/array_state/state", pub.states[0].topic)
}

func TestEmitRepublishesOnSchemaChange(t *testing.T) {
	pub := &fakePublisher{}
	pipe := testPipeline(pub)

	u := Update{
		Entity: registry.Entity{
			Server:    "tower",
			Component: registry.ComponentSensor,
			Suffix:    "cpu_usage",
			Name:      "CPU Usage",
			Unit:      "%",
		},
		State: 12.5,
	}
	require.NoError(t, pipe.Emit(u))

	u.Entity.Icon = "mdi:cpu-64-bit"
	require.NoError(t, pipe.Emit(u))

	require.Len(t, pub.discoveries, 2)
	assert.Equal(t, "mdi:cpu-64-bit", pub.discoveries[1].Icon)
	// Same unique id both times: the retained payload is overwritten, not
	// published to a new topic.
	assert.Equal(t, pub.discoveries[0].UniqueID, pub.discoveries[1].UniqueID)
}

func TestEmitDiscoveryBeforeState(t *testing.T) {
	pub := &fakePublisher{}
	pipe := testPipeline(pub)

	require.NoError(t, pipe.Emit(Update{
		Entity: registry.Entity{
			Server:    "tower",
			Component: registry.ComponentBinarySensor,
			Suffix:    "vm_plex",
			Name:      "VM plex",
		},
		State:      "ON",
		Attributes: map[string]any{"vcpus": 4},
	}))

	require.Len(t, pub.discoveries, 1)
	require.Len(t, pub.states, 1)
	require.Len(t, pub.attrs, 1)
	assert.Equal(t, "tower_vm_plex", pub.discoveries[0].UniqueID)
	assert.Equal(t, "ON", pub.states[0].value)
	assert.Equal(t, 4, pub.attrs[0]["vcpus"])
}

func TestEmitRetainFollowsEntity(t *testing.T) {
	pub := &fakePublisher{}
	pipe := testPipeline(pub)

	require.NoError(t, pipe.Emit(Update{
		Entity: registry.Entity{
			Server:      "tower",
			Component:   registry.ComponentSensor,
			Suffix:      "uptime",
			Name:        "Uptime",
			RetainState: true,
		},
		State: int64(3600),
	}))
	require.NoError(t, pipe.Emit(Update{
		Entity: registry.Entity{
			Server:    "tower",
			Component: registry.ComponentSensor,
			Suffix:    "cpu_usage",
			Name:      "CPU Usage",
		},
		State: 1.0,
	}))

	require.Len(t, pub.states, 2)
	assert.True(t, pub.states[0].retained)
	assert.False(t, pub.states[1].retained)
}

func TestEmitAllContinuesPastFailure(t *testing.T) {
	pub := &fakePublisher{}
	pipe := testPipeline(pub)

	updates := []Update{
		{Entity: registry.Entity{Server: "tower", Component: registry.ComponentSensor, Suffix: "a", Name: "A"}, State: 1},
		{Entity: registry.Entity{Server: "tower", Component: registry.ComponentSensor, Suffix: "b", Name: "B"}, State: 2},
	}
	require.NoError(t, pipe.EmitAll(updates))
	assert.Len(t, pub.states, 2)
}

func TestEmitSkipsDiscoveryWhenDisabled(t *testing.T) {
	pub := &fakePublisher{}
	pipe := testPipeline(pub)
	pipe.SetAutoDiscover(false)

	require.NoError(t, pipe.Emit(Update{
		Entity: registry.Entity{Server: "tower", Component: registry.ComponentSensor, Suffix: "cpu_usage", Name: "CPU Usage"},
		State:  1.0,
	}))

	assert.Empty(t, pub.discoveries)
	assert.Len(t, pub.states, 1)
}

func TestEmitAlertsForwardsEvents(t *testing.T) {
	pub := &fakePublisher{}
	pipe := testPipeline(pub)

	pipe.EmitAlerts([]alert.Event{
		{Server: "tower", EntityID: "tower_smart_disk1", Attribute: "reallocated_sectors", Severity: alert.SeverityCritical, Current: 5},
	})
	require.Len(t, pub.alerts, 1)
	assert.Equal(t, "reallocated_sectors", pub.alerts[0].Attribute)
}
