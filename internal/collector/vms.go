package collector

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/unraid-agent/internal/registry"
	"github.com/unraid-agent/internal/session"
	"github.com/unraid-agent/internal/snapshot"
	"github.com/unraid-agent/internal/source"
)

// VMCollector publishes one binary sensor per libvirt domain. GraphQL gives
// name and state; the legacy VMMachines scrape enriches vCPU and memory
// specs, and serves as the full fallback when GraphQL is unavailable.
type VMCollector struct {
	sess *session.Session
	src  Sources
	pipe *Pipeline
	log  *zap.Logger
}

// NewVMCollector builds the VM collector for one server.
func NewVMCollector(sess *session.Session, src Sources, pipe *Pipeline, log *zap.Logger) *VMCollector {
	return &VMCollector{sess: sess, src: src, pipe: pipe, log: log}
}

func (c *VMCollector) Name() string { return "vms" }
func (c *VMCollector) Init() error  { return nil }
func (c *VMCollector) Close() error { return nil }

// Collect fetches the VM list and emits its entities.
func (c *VMCollector) Collect(ctx context.Context) error {
	var vms []snapshot.VMFragment

	transport, err := source.RunChain(ctx, c.sess, c.log, c.Name(), []source.Attempt{
		{Transport: source.TransportGraphQL, Fn: func(ctx context.Context) error {
			var err error
			vms, err = c.src.GQL.FetchVMs(ctx)
			return err
		}},
		{Transport: source.TransportLegacy, Fn: func(ctx context.Context) error {
			var err error
			vms, err = c.src.Legacy.FetchVMs(ctx)
			return err
		}},
	})
	if err != nil {
		return skipNotApplicable(err)
	}
	c.pipe.ObserveTransport(c.sess.Name(), c.Name(), transport)

	// Best effort: a failed vCPU/memory scrape must not fail the whole cycle.
	specs, specErr := c.src.Legacy.FetchVMSpecs(ctx)
	if specErr != nil {
		c.log.Debug("vm spec scrape unavailable",
			zap.String("server", c.sess.Name()), zap.Error(specErr))
	}

	server := c.sess.Name()
	running := 0
	updates := make([]Update, 0, len(vms)+1)

	for _, vm := range vms {
		state := "OFF"
		if vm.State == "running" {
			state = "ON"
			running++
		}

		attrs := map[string]any{
			"vm_state": vm.State,
		}
		if vm.UUID != "" {
			attrs["uuid"] = vm.UUID
		}
		if spec, ok := specs[vm.Name]; ok {
			if spec.VCPUs != nil {
				attrs["vcpus"] = *spec.VCPUs
			}
			if spec.MemoryMB != nil {
				attrs["memory_mb"] = *spec.MemoryMB
			}
		}

		updates = append(updates, Update{
			Entity: registry.Entity{
				Server:      server,
				Component:   registry.ComponentBinarySensor,
				Suffix:      fmt.Sprintf("vm_%s", vm.Name),
				Name:        fmt.Sprintf("VM %s", vm.Name),
				DeviceClass: "running",
				Icon:        "mdi:monitor",
			},
			State:      state,
			Attributes: attrs,
		})
	}

	updates = append(updates, Update{
		Entity: registry.Entity{
			Server:     server,
			Component:  registry.ComponentSensor,
			Suffix:     "vms_running",
			Name:       "VMs Running",
			Icon:       "mdi:monitor-multiple",
			StateClass: "measurement",
		},
		State: running,
		Attributes: map[string]any{
			"total": len(vms),
		},
	})

	return c.pipe.EmitAll(updates)
}
