package collector

import (
	"context"

	"go.uber.org/zap"

	"github.com/unraid-agent/internal/registry"
	"github.com/unraid-agent/internal/session"
	"github.com/unraid-agent/internal/snapshot"
	"github.com/unraid-agent/internal/source"
)

// UPSCollector publishes UPS sensors on the dedicated ups scan cadence.
// Servers without an attached UPS produce no UPS entities.
type UPSCollector struct {
	sess *session.Session
	src  Sources
	pipe *Pipeline
	log  *zap.Logger
}

// NewUPSCollector builds the UPS collector for one server.
func NewUPSCollector(sess *session.Session, src Sources, pipe *Pipeline, log *zap.Logger) *UPSCollector {
	return &UPSCollector{sess: sess, src: src, pipe: pipe, log: log}
}

func (c *UPSCollector) Name() string { return "ups" }
func (c *UPSCollector) Init() error  { return nil }
func (c *UPSCollector) Close() error { return nil }

// Collect fetches the UPS reading and emits its sensors.
func (c *UPSCollector) Collect(ctx context.Context) error {
	var frag *snapshot.UPSFragment

	transport, err := source.RunChain(ctx, c.sess, c.log, c.Name(), []source.Attempt{
		{Transport: source.TransportGraphQL, Fn: func(ctx context.Context) error {
			var err error
			frag, err = c.src.GQL.FetchUPS(ctx)
			return err
		}},
	})
	if err != nil {
		return skipNotApplicable(err)
	}
	c.pipe.ObserveTransport(c.sess.Name(), c.Name(), transport)

	// No UPS attached is a valid state, not a failure.
	if frag == nil {
		return nil
	}

	server := c.sess.Name()
	var updates []Update

	attrs := map[string]any{}
	if frag.Name != "" {
		attrs["ups_name"] = frag.Name
	}
	if frag.NominalPowerW != nil {
		attrs["nominal_power_w"] = *frag.NominalPowerW
	}
	updates = append(updates, Update{
		Entity: registry.Entity{
			Server:    server,
			Component: registry.ComponentSensor,
			Suffix:    "ups_status",
			Name:      "UPS Status",
			Icon:      "mdi:power-plug",
		},
		State:      frag.Status,
		Attributes: attrs,
	})

	if frag.ChargePercent != nil {
		updates = append(updates, Update{
			Entity: registry.Entity{
				Server:      server,
				Component:   registry.ComponentSensor,
				Suffix:      "ups_battery",
				Name:        "UPS Battery",
				Unit:        "%",
				DeviceClass: "battery",
				StateClass:  "measurement",
			},
			State: *frag.ChargePercent,
		})
	}

	if frag.LoadPercent != nil {
		updates = append(updates, Update{
			Entity: registry.Entity{
				Server:     server,
				Component:  registry.ComponentSensor,
				Suffix:     "ups_load",
				Name:       "UPS Load",
				Unit:       "%",
				Icon:       "mdi:gauge",
				StateClass: "measurement",
			},
			State: *frag.LoadPercent,
		})
	}

	if frag.RuntimeSec != nil {
		updates = append(updates, Update{
			Entity: registry.Entity{
				Server:      server,
				Component:   registry.ComponentSensor,
				Suffix:      "ups_runtime",
				Name:        "UPS Runtime",
				Unit:        "s",
				DeviceClass: "duration",
				StateClass:  "measurement",
			},
			State: *frag.RuntimeSec,
		})
	}

	return c.pipe.EmitAll(updates)
}
