package collector

import (
	"context"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/unraid-agent/internal/registry"
	"github.com/unraid-agent/internal/session"
	"github.com/unraid-agent/internal/snapshot"
	"github.com/unraid-agent/internal/source"
)

// MemoryCollector publishes the memory breakdown sensors served by the
// sidecar endpoint. Servers without a sidecar simply produce no memory
// entities.
type MemoryCollector struct {
	sess *session.Session
	src  Sources
	pipe *Pipeline
	log  *zap.Logger
}

// NewMemoryCollector builds the memory collector for one server.
func NewMemoryCollector(sess *session.Session, src Sources, pipe *Pipeline, log *zap.Logger) *MemoryCollector {
	return &MemoryCollector{sess: sess, src: src, pipe: pipe, log: log}
}

func (c *MemoryCollector) Name() string { return "memory" }
func (c *MemoryCollector) Init() error  { return nil }
func (c *MemoryCollector) Close() error { return nil }

// Collect fetches the memory breakdown and emits its sensors.
func (c *MemoryCollector) Collect(ctx context.Context) error {
	var frag *snapshot.MemoryFragment

	transport, err := source.RunChain(ctx, c.sess, c.log, c.Name(), []source.Attempt{
		{Transport: source.TransportSidecar, Fn: func(ctx context.Context) error {
			var err error
			frag, err = c.src.Sidecar.FetchMemory(ctx)
			return err
		}},
	})
	if err != nil {
		return skipNotApplicable(err)
	}
	c.pipe.ObserveTransport(c.sess.Name(), c.Name(), transport)

	server := c.sess.Name()

	gauges := []struct {
		suffix string
		name   string
		value  float64
	}{
		{"memory_total", "Memory Total", frag.TotalGiB},
		{"memory_used", "Memory Used", frag.UsedGiB},
		{"memory_free", "Memory Free", frag.FreeGiB},
		{"memory_available", "Memory Available", frag.AvailableGiB},
		{"memory_vm", "Memory VM", frag.VMGiB},
		{"memory_docker", "Memory Docker", frag.DockerGiB},
	}

	updates := make([]Update, 0, len(gauges)+1)
	for _, g := range gauges {
		updates = append(updates, Update{
			Entity: registry.Entity{
				Server:     server,
				Component:  registry.ComponentSensor,
				Suffix:     g.suffix,
				Name:       g.name,
				Unit:       "GiB",
				Icon:       "mdi:memory",
				StateClass: "measurement",
			},
			State: g.value,
		})
	}

	updates = append(updates, Update{
		Entity: registry.Entity{
			Server:     server,
			Component:  registry.ComponentSensor,
			Suffix:     "memory_usage",
			Name:       "Memory Usage",
			Unit:       "%",
			Icon:       "mdi:memory",
			StateClass: "measurement",
		},
		State: frag.PercentUsed,
		Attributes: map[string]any{
			"system_gib": frag.SystemGiB,
			"total":      humanize.IBytes(uint64(frag.TotalBytes)),
			"used":       humanize.IBytes(uint64(frag.UsedBytes)),
			"available":  humanize.IBytes(uint64(frag.AvailableBytes)),
		},
	})

	return c.pipe.EmitAll(updates)
}
