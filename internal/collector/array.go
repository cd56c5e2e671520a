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

// Sources bundles the transports available to a server's collectors.
type Sources struct {
	GQL     *source.GraphQLSource
	Legacy  *source.LegacySource
	Sidecar *source.SidecarSource
}

// ArrayCollector publishes array state, capacity and per-disk sensors.
type ArrayCollector struct {
	sess *session.Session
	src  Sources
	pipe *Pipeline
	log  *zap.Logger
}

// NewArrayCollector builds the array collector for one server.
func NewArrayCollector(sess *session.Session, src Sources, pipe *Pipeline, log *zap.Logger) *ArrayCollector {
	return &ArrayCollector{sess: sess, src: src, pipe: pipe, log: log}
}

func (c *ArrayCollector) Name() string { return "array" }
func (c *ArrayCollector) Init() error  { return nil }
func (c *ArrayCollector) Close() error { return nil }

// Collect fetches the array snapshot and emits its entities.
func (c *ArrayCollector) Collect(ctx context.Context) error {
	var (
		frag     *snapshot.ArrayFragment
		parities []snapshot.ParityFragment
		disks    []snapshot.DiskFragment
		caches   []snapshot.DiskFragment
	)

	transport, err := source.RunChain(ctx, c.sess, c.log, c.Name(), []source.Attempt{
		{Transport: source.TransportGraphQL, Fn: func(ctx context.Context) error {
			var err error
			frag, parities, disks, caches, err = c.src.GQL.FetchArray(ctx)
			return err
		}},
	})
	if err != nil {
		return skipNotApplicable(err)
	}
	c.pipe.ObserveTransport(c.sess.Name(), c.Name(), transport)

	server := c.sess.Name()
	var updates []Update

	updates = append(updates, Update{
		Entity: registry.Entity{
			Server:    server,
			Component: registry.ComponentSensor,
			Suffix:    "array_state",
			Name:      "Array State",
			Icon:      "mdi:server",
		},
		State: frag.State,
	})

	if frag.TotalKB != nil && *frag.TotalKB > 0 {
		used := deref(frag.UsedKB)
		free := deref(frag.FreeKB)
		updates = append(updates, Update{
			Entity: registry.Entity{
				Server:     server,
				Component:  registry.ComponentSensor,
				Suffix:     "array_usage",
				Name:       "Array Usage",
				Unit:       "%",
				Icon:       "mdi:database",
				StateClass: "measurement",
			},
			State: convert.Percent(used, *frag.TotalKB),
			Attributes: map[string]any{
				"total_tb": convert.KilobytesToTB(*frag.TotalKB),
				"used_tb":  convert.KilobytesToTB(used),
				"free_tb":  convert.KilobytesToTB(free),
			},
		})
	}

	for _, p := range parities {
		updates = append(updates, c.parityUpdates(server, p)...)
	}
	for _, d := range disks {
		updates = append(updates, c.diskUpdates(server, "disk", d)...)
	}
	for _, d := range caches {
		updates = append(updates, c.diskUpdates(server, "cache", d)...)
	}

	return c.pipe.EmitAll(updates)
}

func (c *ArrayCollector) parityUpdates(server string, p snapshot.ParityFragment) []Update {
	name := p.Name
	if name == "" {
		name = "parity"
	}

	updates := []Update{{
		Entity: registry.Entity{
			Server:    server,
			Component: registry.ComponentSensor,
			Suffix:    fmt.Sprintf("parity_%s_status", name),
			Name:      fmt.Sprintf("Parity %s Status", name),
			Icon:      "mdi:shield-check",
		},
		State: p.Status,
	}}

	// Spun-down parity reports no temperature: no entity, no zero.
	if p.Temp != nil {
		updates = append(updates, Update{
			Entity: registry.Entity{
				Server:      server,
				Component:   registry.ComponentSensor,
				Suffix:      fmt.Sprintf("parity_%s_temperature", name),
				Name:        fmt.Sprintf("Parity %s Temperature", name),
				Unit:        "°C",
				DeviceClass: "temperature",
				StateClass:  "measurement",
			},
			State: *p.Temp,
		})
	}

	if p.SizeSectors > 0 {
		updates = append(updates, Update{
			Entity: registry.Entity{
				Server:      server,
				Component:   registry.ComponentSensor,
				Suffix:      fmt.Sprintf("parity_%s_size", name),
				Name:        fmt.Sprintf("Parity %s Size", name),
				Unit:        "TB",
				Icon:        "mdi:harddisk",
				StateClass:  "measurement",
				RetainState: true,
			},
			State: convert.SectorsToTB(p.SizeSectors),
		})
	}
	return updates
}

func (c *ArrayCollector) diskUpdates(server, kind string, d snapshot.DiskFragment) []Update {
	name := d.Name
	if name == "" {
		name = d.ID
	}
	if name == "" {
		return nil
	}

	updates := []Update{{
		Entity: registry.Entity{
			Server:    server,
			Component: registry.ComponentSensor,
			Suffix:    fmt.Sprintf("%s_%s_status", kind, name),
			Name:      fmt.Sprintf("Disk %s Status", name),
			Icon:      "mdi:harddisk",
		},
		State: d.Status,
		Attributes: map[string]any{
			"device":  d.Device,
			"fs_type": d.FsType,
		},
	}}

	if d.Temp != nil {
		updates = append(updates, Update{
			Entity: registry.Entity{
				Server:      server,
				Component:   registry.ComponentSensor,
				Suffix:      fmt.Sprintf("%s_%s_temperature", kind, name),
				Name:        fmt.Sprintf("Disk %s Temperature", name),
				Unit:        "°C",
				DeviceClass: "temperature",
				StateClass:  "measurement",
			},
			State: *d.Temp,
		})
	}

	if d.FsSizeKB != nil && *d.FsSizeKB > 0 && d.FsUsedKB != nil {
		updates = append(updates, Update{
			Entity: registry.Entity{
				Server:     server,
				Component:  registry.ComponentSensor,
				Suffix:     fmt.Sprintf("%s_%s_usage", kind, name),
				Name:       fmt.Sprintf("Disk %s Usage", name),
				Unit:       "%",
				Icon:       "mdi:database",
				StateClass: "measurement",
			},
			State: convert.Percent(*d.FsUsedKB, *d.FsSizeKB),
			Attributes: map[string]any{
				"size_tb": convert.KilobytesToTB(*d.FsSizeKB),
				"used_tb": convert.KilobytesToTB(*d.FsUsedKB),
				"free_tb": convert.KilobytesToTB(deref(d.FsFreeKB)),
			},
		})
	}
	return updates
}

func deref(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}
