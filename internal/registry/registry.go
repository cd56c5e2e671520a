// Package registry maps domain entities to stable identifiers and discovery
// payloads, and guarantees at-most-one discovery publication per stable
// schema.
package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Component is the downstream platform's entity category.
type Component string

const (
	ComponentSensor       Component = "sensor"
	ComponentBinarySensor Component = "binary_sensor"
)

// Entity describes one published sensor. The identifier derived from
// (server, suffix) is stable for the process lifetime; entities are never
// deleted automatically.
type Entity struct {
	Server      string
	Component   Component
	Suffix      string // unique-id suffix within the server, e.g. "array_state"
	Name        string
	Unit        string
	DeviceClass string
	StateClass  string
	Icon        string
	// RetainState marks slow-changing states published retained.
	RetainState bool
	// ExpireAfter is the seconds after which the platform marks the sensor
	// unavailable without fresh state; 0 disables expiry.
	ExpireAfter int
}

var slugRe = regexp.MustCompile(`[^a-z0-9_]+`)

// Slug normalizes a name for use in identifiers and topics.
func Slug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "_")
	s = slugRe.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}

// ID returns the stable entity identifier.
func (e Entity) ID() string {
	return Slug(e.Server) + "_" + Slug(e.Suffix)
}

// Topics names the MQTT topics for one entity under the configured
// prefixes.
type Topics struct {
	Discovery    string
	State        string
	Attributes   string
	Availability string
}

// TopicsFor builds the topic set: discovery under the platform's discovery
// prefix, state/attributes under the agent's base topic.
func TopicsFor(e Entity, discoveryPrefix, baseTopic string) Topics {
	node := Slug(e.Server)
	object := Slug(e.Suffix)
	return Topics{
		Discovery:    fmt.Sprintf("%s/%s/%s/%s/config", discoveryPrefix, e.Component, node, object),
		State:        fmt.Sprintf("%s/%s/%s/state", baseTopic, node, object),
		Attributes:   fmt.Sprintf("%s/%s/%s/attributes", baseTopic, node, object),
		Availability: fmt.Sprintf("%s/%s/availability", baseTopic, node),
	}
}

// DiscoveryPayload is the retained config message that lets the platform
// auto-create the sensor.
type DiscoveryPayload struct {
	Name                string `json:"name"`
	UniqueID            string `json:"unique_id"`
	StateTopic          string `json:"state_topic"`
	JSONAttributesTopic string `json:"json_attributes_topic,omitempty"`
	AvailabilityTopic   string `json:"availability_topic,omitempty"`
	UnitOfMeasurement   string `json:"unit_of_measurement,omitempty"`
	DeviceClass         string `json:"device_class,omitempty"`
	StateClass          string `json:"state_class,omitempty"`
	Icon                string `json:"icon,omitempty"`
	ExpireAfter         int    `json:"expire_after,omitempty"`
	Device              Device `json:"device"`
}

// Device groups all of one server's entities under a single device record.
type Device struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
}

// BuildDiscovery renders the discovery payload for an entity.
func BuildDiscovery(e Entity, topics Topics) DiscoveryPayload {
	return DiscoveryPayload{
		Name:                e.Name,
		UniqueID:            e.ID(),
		StateTopic:          topics.State,
		JSONAttributesTopic: topics.Attributes,
		AvailabilityTopic:   topics.Availability,
		UnitOfMeasurement:   e.Unit,
		DeviceClass:         e.DeviceClass,
		StateClass:          e.StateClass,
		Icon:                e.Icon,
		ExpireAfter:         e.ExpireAfter,
		Device: Device{
			Identifiers:  []string{"unraid_" + Slug(e.Server)},
			Name:         e.Server,
			Manufacturer: "Lime Technology",
			Model:        "Unraid Server",
		},
	}
}

// Action is the discovery decision for one entity.
type Action int

const (
	// ActionNone: discovery already published with an identical schema.
	ActionNone Action = iota
	// ActionPublish: first sighting of this identifier.
	ActionPublish
	// ActionRepublish: schema fingerprint changed; overwrite the retained
	// payload on the same topic (latest-write-wins on the broker).
	ActionRepublish
)

// Registry tracks which identifiers have had discovery published and the
// fingerprint of what was published.
type Registry struct {
	mu           sync.Mutex
	fingerprints map[string]string
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{fingerprints: map[string]string{}}
}

// fingerprint hashes the discovery payload; any schema-relevant field change
// alters it.
func fingerprint(p DiscoveryPayload) string {
	b, _ := json.Marshal(p)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// EnsureDiscovered decides whether the entity's discovery payload needs
// publishing, and records the decision.
func (r *Registry) EnsureDiscovered(e Entity, payload DiscoveryPayload) Action {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := e.ID()
	fp := fingerprint(payload)

	prev, seen := r.fingerprints[id]
	if !seen {
		r.fingerprints[id] = fp
		return ActionPublish
	}
	if prev != fp {
		r.fingerprints[id] = fp
		return ActionRepublish
	}
	return ActionNone
}

// Known reports whether discovery was ever published for an identifier.
func (r *Registry) Known(entityID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.fingerprints[entityID]
	return ok
}

// Len reports the number of discovered identifiers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fingerprints)
}
