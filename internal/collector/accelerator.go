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

// AcceleratorCollector publishes PCIe and USB accelerator sensors from the
// sidecar endpoint: temperature and throttle status for PCIe devices,
// presence for USB devices, and a device-count summary.
type AcceleratorCollector struct {
	sess *session.Session
	src  Sources
	pipe *Pipeline
	log  *zap.Logger
}

// NewAcceleratorCollector builds the accelerator collector for one server.
func NewAcceleratorCollector(sess *session.Session, src Sources, pipe *Pipeline, log *zap.Logger) *AcceleratorCollector {
	return &AcceleratorCollector{sess: sess, src: src, pipe: pipe, log: log}
}

func (c *AcceleratorCollector) Name() string { return "accelerator" }
func (c *AcceleratorCollector) Init() error  { return nil }
func (c *AcceleratorCollector) Close() error { return nil }

// Collect fetches the accelerator inventory and emits its sensors.
func (c *AcceleratorCollector) Collect(ctx context.Context) error {
	var frag *snapshot.AcceleratorFragment

	transport, err := source.RunChain(ctx, c.sess, c.log, c.Name(), []source.Attempt{
		{Transport: source.TransportSidecar, Fn: func(ctx context.Context) error {
			var err error
			frag, err = c.src.Sidecar.FetchAccelerators(ctx)
			return err
		}},
	})
	if err != nil {
		return skipNotApplicable(err)
	}
	c.pipe.ObserveTransport(c.sess.Name(), c.Name(), transport)

	server := c.sess.Name()
	var updates []Update

	for i, dev := range frag.PCIe {
		slot := dev.ID
		if slot == "" {
			slot = fmt.Sprintf("%d", i)
		}

		updates = append(updates, Update{
			Entity: registry.Entity{
				Server:    server,
				Component: registry.ComponentSensor,
				Suffix:    fmt.Sprintf("coral_pcie_%s_status", slot),
				Name:      fmt.Sprintf("Coral PCIe %s Status", slot),
				Icon:      "mdi:chip",
			},
			State: dev.Throttle.Label(),
			Attributes: map[string]any{
				"device":         dev.Device,
				"throttle_state": string(dev.Throttle),
			},
		})

		// Unreadable temperature means no temperature entity, not zero.
		if dev.TempMilli != nil {
			attrs := map[string]any{}
			if dev.TripPoint0 != nil {
				attrs["trip_point0_c"] = convert.MillidegreesToCelsius(*dev.TripPoint0)
			}
			if dev.TripPoint1 != nil {
				attrs["trip_point1_c"] = convert.MillidegreesToCelsius(*dev.TripPoint1)
			}
			if dev.TripPoint2 != nil {
				attrs["trip_point2_c"] = convert.MillidegreesToCelsius(*dev.TripPoint2)
			}
			if dev.ShutdownTemp != nil {
				attrs["shutdown_temp_c"] = convert.MillidegreesToCelsius(*dev.ShutdownTemp)
			}
			if dev.PollInterval != nil {
				attrs["poll_interval_ms"] = *dev.PollInterval
			}

			updates = append(updates, Update{
				Entity: registry.Entity{
					Server:      server,
					Component:   registry.ComponentSensor,
					Suffix:      fmt.Sprintf("coral_pcie_%s_temperature", slot),
					Name:        fmt.Sprintf("Coral PCIe %s Temperature", slot),
					Unit:        "°C",
					DeviceClass: "temperature",
					StateClass:  "measurement",
				},
				State:      convert.MillidegreesToCelsius(*dev.TempMilli),
				Attributes: attrs,
			})
		}
	}

	for i, dev := range frag.USB {
		slot := dev.ID
		if slot == "" {
			slot = fmt.Sprintf("%d", i)
		}

		state := "OFF"
		if dev.Initialized {
			state = "ON"
		}
		updates = append(updates, Update{
			Entity: registry.Entity{
				Server:      server,
				Component:   registry.ComponentBinarySensor,
				Suffix:      fmt.Sprintf("coral_usb_%s", slot),
				Name:        fmt.Sprintf("Coral USB %s", slot),
				DeviceClass: "connectivity",
				Icon:        "mdi:usb",
			},
			State: state,
			Attributes: map[string]any{
				"bus":         dev.Bus,
				"device":      dev.Device,
				"vendor_id":   dev.VendorID,
				"product_id":  dev.ProductID,
				"description": dev.Description,
			},
		})
	}

	updates = append(updates, Update{
		Entity: registry.Entity{
			Server:     server,
			Component:  registry.ComponentSensor,
			Suffix:     "coral_devices",
			Name:       "Coral Devices",
			Icon:       "mdi:chip",
			StateClass: "measurement",
		},
		State: len(frag.PCIe) + len(frag.USB),
		Attributes: map[string]any{
			"pcie": len(frag.PCIe),
			"usb":  len(frag.USB),
		},
	})

	return c.pipe.EmitAll(updates)
}
