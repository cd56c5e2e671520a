package collector

import (
	"go.uber.org/zap"

	"github.com/unraid-agent/internal/alert"
	"github.com/unraid-agent/internal/metrics"
	"github.com/unraid-agent/internal/registry"
	"github.com/unraid-agent/internal/state"
)

// Publisher is the pipeline's view of the MQTT publisher; narrowed for
// testing with a fake.
type Publisher interface {
	PublishDiscovery(topics registry.Topics, payload registry.DiscoveryPayload) error
	PublishState(topics registry.Topics, value any, retained bool) error
	PublishAttributes(topics registry.Topics, attrs map[string]any) error
	PublishAlert(ev alert.Event) error
}

// Update is one entity observation produced by a collector.
type Update struct {
	Entity     registry.Entity
	State      any
	Attributes map[string]any
}

// Pipeline runs the StateStore -> EntityRegistry -> Publisher sequence for
// every update, preserving discovery-before-state-before-attributes order
// per entity.
type Pipeline struct {
	store    *state.Store
	registry *registry.Registry
	pub      Publisher
	agent    *metrics.Agent
	log      *zap.Logger

	discoveryPrefix string
	baseTopic       string
	autoDiscover    bool
}

// NewPipeline wires the shared pipeline used by every collector.
func NewPipeline(store *state.Store, reg *registry.Registry, pub Publisher, agent *metrics.Agent, discoveryPrefix, baseTopic string, log *zap.Logger) *Pipeline {
	return &Pipeline{
		store:           store,
		registry:        reg,
		pub:             pub,
		agent:           agent,
		log:             log,
		discoveryPrefix: discoveryPrefix,
		baseTopic:       baseTopic,
		autoDiscover:    true,
	}
}

// SetAutoDiscover disables discovery publication for setups that define
// entities out of band. State and attributes still publish.
func (p *Pipeline) SetAutoDiscover(enabled bool) { p.autoDiscover = enabled }

// Store exposes the state store for collectors that track attribute records.
func (p *Pipeline) Store() *state.Store { return p.store }

// Emit publishes one entity update: discovery first when the registry says
// so, then state, then attributes. State is published on every tick
// (most-recent-value-wins); the store diff only feeds logging and alerts.
func (p *Pipeline) Emit(u Update) error {
	topics := registry.TopicsFor(u.Entity, p.discoveryPrefix, p.baseTopic)
	payload := registry.BuildDiscovery(u.Entity, topics)

	if p.autoDiscover {
		switch p.registry.EnsureDiscovered(u.Entity, payload) {
		case registry.ActionPublish:
			if err := p.pub.PublishDiscovery(topics, payload); err != nil {
				return err
			}
			p.log.Info("entity discovered",
				zap.String("entity", u.Entity.ID()),
				zap.String("topic", topics.Discovery))
		case registry.ActionRepublish:
			// Schema changed: overwrite the retained payload on the same topic.
			if err := p.pub.PublishDiscovery(topics, payload); err != nil {
				return err
			}
			p.log.Info("entity schema changed, discovery republished",
				zap.String("entity", u.Entity.ID()))
		}
		if p.agent != nil {
			p.agent.EntitiesDiscovered.Set(float64(p.registry.Len()))
		}
	}

	changed, prev := p.store.Update(u.Entity.ID(), u.State)
	if changed && prev != nil {
		p.log.Debug("state changed",
			zap.String("entity", u.Entity.ID()),
			zap.Any("previous", prev),
			zap.Any("current", u.State))
	}

	if err := p.pub.PublishState(topics, u.State, u.Entity.RetainState); err != nil {
		return err
	}
	return p.pub.PublishAttributes(topics, u.Attributes)
}

// EmitAll publishes a batch of updates; one failed entity does not stop the
// rest. Returns the first error for the caller's logging.
func (p *Pipeline) EmitAll(updates []Update) error {
	var firstErr error
	for _, u := range updates {
		if err := p.Emit(u); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ObserveTransport records which transport served a domain fetch.
func (p *Pipeline) ObserveTransport(server, domain, transport string) {
	if p.agent != nil && transport != "" {
		p.agent.TransportUsed.WithLabelValues(server, domain, transport).Inc()
	}
}

// EmitAlerts publishes storage-health alert events.
func (p *Pipeline) EmitAlerts(events []alert.Event) {
	for _, ev := range events {
		if err := p.pub.PublishAlert(ev); err != nil {
			p.log.Warn("alert publish failed",
				zap.String("entity", ev.EntityID),
				zap.Error(err))
			continue
		}
		if p.agent != nil {
			p.agent.AlertsEmitted.Inc()
		}
		p.log.Warn("storage health alert",
			zap.String("entity", ev.EntityID),
			zap.String("attribute", ev.Attribute),
			zap.String("severity", string(ev.Severity)),
			zap.Int64("previous", ev.Previous),
			zap.Int64("current", ev.Current))
	}
}
