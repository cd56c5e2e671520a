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

// GPUCollector publishes per-GPU sensors from the gpustat webGui plugin.
// Only metrics the plugin actually reports become entities; N/A readings
// produce no sensor at all.
type GPUCollector struct {
	sess *session.Session
	src  Sources
	pipe *Pipeline
	log  *zap.Logger
}

// NewGPUCollector builds the GPU collector for one server.
func NewGPUCollector(sess *session.Session, src Sources, pipe *Pipeline, log *zap.Logger) *GPUCollector {
	return &GPUCollector{sess: sess, src: src, pipe: pipe, log: log}
}

func (c *GPUCollector) Name() string { return "gpu" }
func (c *GPUCollector) Init() error  { return nil }
func (c *GPUCollector) Close() error { return nil }

// Collect fetches GPU readings and emits sensors for valid metrics.
func (c *GPUCollector) Collect(ctx context.Context) error {
	var gpus []snapshot.GPUFragment

	transport, err := source.RunChain(ctx, c.sess, c.log, c.Name(), []source.Attempt{
		{Transport: source.TransportLegacy, Fn: func(ctx context.Context) error {
			var err error
			gpus, err = c.src.Legacy.FetchGPUs(ctx)
			return err
		}},
	})
	if err != nil {
		return skipNotApplicable(err)
	}
	c.pipe.ObserveTransport(c.sess.Name(), c.Name(), transport)

	server := c.sess.Name()
	var updates []Update

	for i, gpu := range gpus {
		slot := gpu.ID
		if slot == "" {
			slot = fmt.Sprintf("%d", i)
		}
		label := gpu.Name
		if label == "" {
			label = fmt.Sprintf("GPU %s", slot)
		}

		metricSensors := []struct {
			suffix      string
			name        string
			unit        string
			deviceClass string
			icon        string
			value       *int
		}{
			{"load", "Load", "%", "", "mdi:expansion-card", gpu.LoadPct},
			{"memory", "Memory", "%", "", "mdi:expansion-card", gpu.MemPct},
			{"fan", "Fan", "%", "", "mdi:fan", gpu.FanPct},
			{"power", "Power", "W", "power", "", gpu.PowerW},
			{"temperature", "Temperature", "°C", "temperature", "", gpu.TempC},
		}

		for _, m := range metricSensors {
			if m.value == nil {
				continue
			}
			attrs := map[string]any{"gpu": label}
			if m.suffix == "memory" {
				if gpu.MemUsed != nil {
					attrs["used_mb"] = *gpu.MemUsed
				}
				if gpu.MemTotal != nil {
					attrs["total_mb"] = *gpu.MemTotal
				}
			}
			updates = append(updates, Update{
				Entity: registry.Entity{
					Server:      server,
					Component:   registry.ComponentSensor,
					Suffix:      fmt.Sprintf("gpu_%s_%s", slot, m.suffix),
					Name:        fmt.Sprintf("%s %s", label, m.name),
					Unit:        m.unit,
					DeviceClass: m.deviceClass,
					Icon:        m.icon,
					StateClass:  "measurement",
				},
				State:      *m.value,
				Attributes: attrs,
			})
		}
	}

	return c.pipe.EmitAll(updates)
}
