package collector

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/unraid-agent/internal/registry"
	"github.com/unraid-agent/internal/session"
	"github.com/unraid-agent/internal/snapshot"
	"github.com/unraid-agent/internal/source"
)

// DockerCollector publishes one running/stopped binary sensor per container.
type DockerCollector struct {
	sess *session.Session
	src  Sources
	pipe *Pipeline
	log  *zap.Logger
}

// NewDockerCollector builds the Docker collector for one server.
func NewDockerCollector(sess *session.Session, src Sources, pipe *Pipeline, log *zap.Logger) *DockerCollector {
	return &DockerCollector{sess: sess, src: src, pipe: pipe, log: log}
}

func (c *DockerCollector) Name() string { return "docker" }
func (c *DockerCollector) Init() error  { return nil }
func (c *DockerCollector) Close() error { return nil }

// Collect fetches the container list and emits its entities.
func (c *DockerCollector) Collect(ctx context.Context) error {
	var containers []snapshot.ContainerFragment

	transport, err := source.RunChain(ctx, c.sess, c.log, c.Name(), []source.Attempt{
		{Transport: source.TransportGraphQL, Fn: func(ctx context.Context) error {
			var err error
			containers, err = c.src.GQL.FetchContainers(ctx)
			return err
		}},
	})
	if err != nil {
		return skipNotApplicable(err)
	}
	c.pipe.ObserveTransport(c.sess.Name(), c.Name(), transport)

	server := c.sess.Name()
	running := 0
	updates := make([]Update, 0, len(containers)+1)

	for _, ct := range containers {
		state := "OFF"
		if ct.Running() {
			state = "ON"
			running++
		}

		attrs := map[string]any{
			"container_id": ct.ID,
			"image":        ct.Image,
			"status":       ct.Status,
			"autostart":    ct.AutoStart,
		}
		if len(ct.PortMappings) > 0 {
			attrs["ports"] = strings.Join(ct.PortMappings, ", ")
		}

		updates = append(updates, Update{
			Entity: registry.Entity{
				Server:      server,
				Component:   registry.ComponentBinarySensor,
				Suffix:      fmt.Sprintf("container_%s", ct.Name),
				Name:        fmt.Sprintf("Container %s", ct.Name),
				DeviceClass: "running",
				Icon:        "mdi:docker",
			},
			State:      state,
			Attributes: attrs,
		})
	}

	updates = append(updates, Update{
		Entity: registry.Entity{
			Server:     server,
			Component:  registry.ComponentSensor,
			Suffix:     "containers_running",
			Name:       "Containers Running",
			Icon:       "mdi:docker",
			StateClass: "measurement",
		},
		State: running,
		Attributes: map[string]any{
			"total": len(containers),
		},
	})

	return c.pipe.EmitAll(updates)
}
