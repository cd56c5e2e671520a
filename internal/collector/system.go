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

// SystemCollector publishes the uptime sensor on the slow system cadence.
type SystemCollector struct {
	sess *session.Session
	src  Sources
	pipe *Pipeline
	log  *zap.Logger
}

// NewSystemCollector builds the system collector for one server.
func NewSystemCollector(sess *session.Session, src Sources, pipe *Pipeline, log *zap.Logger) *SystemCollector {
	return &SystemCollector{sess: sess, src: src, pipe: pipe, log: log}
}

func (c *SystemCollector) Name() string { return "system" }
func (c *SystemCollector) Init() error  { return nil }
func (c *SystemCollector) Close() error { return nil }

// Collect fetches the system info and emits the uptime sensor.
func (c *SystemCollector) Collect(ctx context.Context) error {
	var frag *snapshot.SystemFragment

	transport, err := source.RunChain(ctx, c.sess, c.log, c.Name(), []source.Attempt{
		{Transport: source.TransportGraphQL, Fn: func(ctx context.Context) error {
			var err error
			frag, err = c.src.GQL.FetchSystem(ctx)
			return err
		}},
	})
	if err != nil {
		return skipNotApplicable(err)
	}
	c.pipe.ObserveTransport(c.sess.Name(), c.Name(), transport)

	return c.pipe.Emit(Update{
		Entity: registry.Entity{
			Server:      c.sess.Name(),
			Component:   registry.ComponentSensor,
			Suffix:      "uptime",
			Name:        "Uptime",
			Unit:        "s",
			DeviceClass: "duration",
			Icon:        "mdi:clock-outline",
			RetainState: true,
		},
		State: frag.UptimeSeconds,
		Attributes: map[string]any{
			"formatted": formatUptime(frag.UptimeSeconds),
		},
	})
}

// formatUptime renders seconds as "1d 2h 3m 4s", dropping leading zero units.
func formatUptime(secs int64) string {
	days := secs / 86400
	hours := (secs % 86400) / 3600
	mins := (secs % 3600) / 60
	s := secs % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, mins, s)
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, mins, s)
	case mins > 0:
		return fmt.Sprintf("%dm %ds", mins, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
