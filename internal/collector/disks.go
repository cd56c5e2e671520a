package collector

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/unraid-agent/internal/alert"
	"github.com/unraid-agent/internal/registry"
	"github.com/unraid-agent/internal/session"
	"github.com/unraid-agent/internal/snapshot"
	"github.com/unraid-agent/internal/source"
)

// SmartCollector publishes per-disk SMART health sensors and feeds the
// attribute transitions to the alert engine.
type SmartCollector struct {
	sess   *session.Session
	src    Sources
	pipe   *Pipeline
	engine *alert.Engine
	log    *zap.Logger

	// previous holds the last observed fragment per disk serial, so the
	// engine sees (previous, current) pairs even when the fetch order of
	// disks changes between ticks.
	previous map[string]snapshot.DiskFragment
}

// NewSmartCollector builds the SMART health collector for one server.
func NewSmartCollector(sess *session.Session, src Sources, pipe *Pipeline, engine *alert.Engine, log *zap.Logger) *SmartCollector {
	return &SmartCollector{
		sess:     sess,
		src:      src,
		pipe:     pipe,
		engine:   engine,
		log:      log,
		previous: map[string]snapshot.DiskFragment{},
	}
}

func (c *SmartCollector) Name() string { return "smart" }
func (c *SmartCollector) Init() error  { return nil }
func (c *SmartCollector) Close() error { return nil }

// Collect fetches SMART data, emits health sensors and evaluates alerts.
func (c *SmartCollector) Collect(ctx context.Context) error {
	var disks []snapshot.DiskFragment

	transport, err := source.RunChain(ctx, c.sess, c.log, c.Name(), []source.Attempt{
		{Transport: source.TransportGraphQL, Fn: func(ctx context.Context) error {
			var err error
			disks, err = c.src.GQL.FetchSmart(ctx)
			return err
		}},
	})
	if err != nil {
		return skipNotApplicable(err)
	}
	c.pipe.ObserveTransport(c.sess.Name(), c.Name(), transport)

	server := c.sess.Name()
	now := time.Now()
	var firstErr error
	var events []alert.Event

	for _, d := range disks {
		key := d.Serial
		if key == "" {
			key = d.Name
		}
		if key == "" {
			continue
		}

		name := d.Name
		if name == "" {
			name = key
		}

		entity := registry.Entity{
			Server:    server,
			Component: registry.ComponentSensor,
			Suffix:    fmt.Sprintf("smart_%s", name),
			Name:      fmt.Sprintf("SMART %s", name),
			Icon:      "mdi:harddisk-plus",
		}

		attrs := map[string]any{
			"device": d.Device,
			"serial": d.Serial,
		}
		for _, ma := range monitoredAttributeIDs {
			if v, ok := d.Smart[ma.id]; ok {
				attrs[ma.name] = v
			}
		}
		for counter, v := range d.SasCounters {
			attrs[counter] = v
		}

		if err := c.pipe.Emit(Update{
			Entity:     entity,
			State:      smartStateFor(d),
			Attributes: attrs,
		}); err != nil && firstErr == nil {
			firstErr = err
		}

		for _, ma := range monitoredAttributeIDs {
			if v, ok := d.Smart[ma.id]; ok {
				c.pipe.Store().UpdateAttribute(entity.ID(), ma.name, v, now)
			}
		}
		for counter, v := range d.SasCounters {
			c.pipe.Store().UpdateAttribute(entity.ID(), counter, v, now)
		}

		var prev *snapshot.DiskFragment
		if p, seen := c.previous[key]; seen {
			prev = &p
		}
		events = append(events, c.engine.Evaluate(server, entity.ID(), prev, &d, now)...)
		c.previous[key] = d
	}

	c.pipe.EmitAlerts(events)
	return firstErr
}

// monitoredAttributeIDs mirrors the alert engine's attribute list so the
// sensor attributes use the same names the alerts do.
var monitoredAttributeIDs = []struct {
	id   int
	name string
}{
	{5, "reallocated_sectors"},
	{187, "reported_uncorrectable"},
	{188, "command_timeouts"},
	{197, "current_pending_sectors"},
	{198, "offline_uncorrectable"},
}

// smartStateFor maps the reported SMART status to the published state,
// defaulting to the raw status string for vendor-specific values.
func smartStateFor(d snapshot.DiskFragment) string {
	switch d.Status {
	case "":
		return "Unknown"
	case "OK", "PASSED", "passed":
		return "Healthy"
	default:
		return d.Status
	}
}
