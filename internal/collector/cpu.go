package collector

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/unraid-agent/internal/registry"
	"github.com/unraid-agent/internal/session"
	"github.com/unraid-agent/internal/snapshot"
	"github.com/unraid-agent/internal/source"
	"github.com/unraid-agent/pkg/convert"
)

// CPUCollector publishes the total CPU load sensor with per-core attributes.
type CPUCollector struct {
	sess *session.Session
	src  Sources
	pipe *Pipeline
	log  *zap.Logger
}

// NewCPUCollector builds the CPU collector for one server.
func NewCPUCollector(sess *session.Session, src Sources, pipe *Pipeline, log *zap.Logger) *CPUCollector {
	return &CPUCollector{sess: sess, src: src, pipe: pipe, log: log}
}

func (c *CPUCollector) Name() string { return "cpu" }
func (c *CPUCollector) Init() error  { return nil }
func (c *CPUCollector) Close() error { return nil }

// Collect fetches the CPU reading and emits the usage sensor.
func (c *CPUCollector) Collect(ctx context.Context) error {
	var frag *snapshot.CPUFragment

	transport, err := source.RunChain(ctx, c.sess, c.log, c.Name(), []source.Attempt{
		{Transport: source.TransportGraphQL, Fn: func(ctx context.Context) error {
			var err error
			frag, err = c.src.GQL.FetchCPU(ctx)
			return err
		}},
	})
	if err != nil {
		return skipNotApplicable(err)
	}
	c.pipe.ObserveTransport(c.sess.Name(), c.Name(), transport)

	// No total and no cores means nothing to report this tick; the stored
	// value is left untouched.
	if frag.PercentTotal == nil && len(frag.PerCore) == 0 {
		return nil
	}

	total := 0.0
	if frag.PercentTotal != nil {
		total = *frag.PercentTotal
	} else {
		for _, core := range frag.PerCore {
			total += core
		}
		total /= float64(len(frag.PerCore))
	}

	attrs := map[string]any{}
	for i, core := range frag.PerCore {
		attrs[fmt.Sprintf("core_%d", i)] = convert.Percent(core, 100)
	}
	attrs["cores"] = len(frag.PerCore)

	return c.pipe.Emit(Update{
		Entity: registry.Entity{
			Server:     c.sess.Name(),
			Component:  registry.ComponentSensor,
			Suffix:     "cpu_usage",
			Name:       "CPU Usage",
			Unit:       "%",
			Icon:       "mdi:cpu-64-bit",
			StateClass: "measurement",
		},
		State:      convert.Percent(total, 100),
		Attributes: attrs,
	})
}
