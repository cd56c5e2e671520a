package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func entity() Entity {
	return Entity{
		Server:     "Tower",
		Component:  ComponentSensor,
		Suffix:     "array_usage",
		Name:       "Array Usage",
		Unit:       "%",
		Icon:       "mdi:database",
		StateClass: "measurement",
	}
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "tower", Slug("Tower"))
	assert.Equal(t, "my_server_2", Slug("My Server #2"))
	assert.Equal(t, "disk_wd1234", Slug("disk_WD1234"))
}

func TestEntityID(t *testing.T) {
	assert.Equal(t, "tower_array_usage", entity().ID())
}

func TestTopicsFor(t *testing.T) {
	topics := TopicsFor(entity(), "homeassistant", "unraid")
	assert.Equal(t, "homeassistant/sensor/tower/array_usage/config", topics.Discovery)
	assert.Equal(t, "unraid/tower/array_usage/state", topics.State)
	assert.Equal(t, "unraid/tower/array_usage/attributes", topics.Attributes)
	assert.Equal(t, "unraid/tower/availability", topics.Availability)
}

func TestEnsureDiscoveredIdempotent(t *testing.T) {
	r := New()
	e := entity()
	topics := TopicsFor(e, "homeassistant", "unraid")
	payload := BuildDiscovery(e, topics)

	assert.Equal(t, ActionPublish, r.EnsureDiscovered(e, payload))
	// Identical schema published again: no action, however many times.
	assert.Equal(t, ActionNone, r.EnsureDiscovered(e, payload))
	assert.Equal(t, ActionNone, r.EnsureDiscovered(e, payload))
	assert.True(t, r.Known(e.ID()))
}

func TestEnsureDiscoveredRepublishOnSchemaChange(t *testing.T) {
	r := New()
	e := entity()
	topics := TopicsFor(e, "homeassistant", "unraid")

	assert.Equal(t, ActionPublish, r.EnsureDiscovered(e, BuildDiscovery(e, topics)))

	// Unit change alters the fingerprint: republish to the same topic.
	e.Unit = "GiB"
	assert.Equal(t, ActionRepublish, r.EnsureDiscovered(e, BuildDiscovery(e, topics)))
	// And the new schema is now the recorded one.
	assert.Equal(t, ActionNone, r.EnsureDiscovered(e, BuildDiscovery(e, topics)))
}

func TestSeparateIdentifiersTrackedIndependently(t *testing.T) {
	r := New()
	a := entity()
	b := entity()
	b.Suffix = "array_state"

	topicsA := TopicsFor(a, "homeassistant", "unraid")
	topicsB := TopicsFor(b, "homeassistant", "unraid")
	assert.Equal(t, ActionPublish, r.EnsureDiscovered(a, BuildDiscovery(a, topicsA)))
	assert.Equal(t, ActionPublish, r.EnsureDiscovered(b, BuildDiscovery(b, topicsB)))
	assert.Equal(t, 2, r.Len())
}
